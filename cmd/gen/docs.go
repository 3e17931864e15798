package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/tcpserial/internal/meta"
)

// docFormat is one kind of generated documentation.
type docFormat struct {
	name       string
	title      string
	defaultDir string
	write      func(root *cobra.Command, dir string) error
}

var manPages = docFormat{
	name:       "man",
	title:      "man pages",
	defaultDir: "man",
	write: func(root *cobra.Command, dir string) error {
		return doc.GenManTree(root, &doc.GenManHeader{
			Section: "1",
			Manual:  "tcpserial Manual",
			Source:  "tcpserial " + meta.Version,
		}, dir)
	},
}

var markdownPages = docFormat{
	name:       "markdown",
	title:      "markdown reference",
	defaultDir: "docs",
	write:      doc.GenMarkdownTree,
}

func newDocsCmd(format docFormat) *cobra.Command {
	var dir string

	c := &cobra.Command{
		Use:   format.name,
		Short: fmt.Sprintf("Generate the %s for tcpserial", format.title),
		Long: fmt.Sprintf(`Writes the %s for every tcpserial command, one file per
command. Missing directories are created.`, format.title),
		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if err := prepareDir(dir); err != nil {
				return err
			}

			root := cmd.Root()
			root.DisableAutoGenTag = true

			if err := format.write(root, dir); err != nil {
				return fmt.Errorf("writing %s: %w", format.title, err)
			}

			fmt.Fprintf(out, "Wrote tcpserial %s to %s\n", format.title, dir)

			return nil
		},
	}

	flags := c.Flags()
	flags.StringVar(&dir, "dir", format.defaultDir, "the directory to write to")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}

	return c
}

func prepareDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return os.MkdirAll(dir, 0750)

	case err != nil:
		return err

	case !info.IsDir():
		return fmt.Errorf("%s is not a directory", dir)
	}

	return nil
}
