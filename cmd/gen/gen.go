package gen

import (
	"github.com/spf13/cobra"
)

// RootCmd groups the documentation generators. Each writes one file per
// command of the tree it is attached to.
var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for tcpserial",
}

func init() {
	RootCmd.AddCommand(
		newDocsCmd(manPages),
		newDocsCmd(markdownPages),
	)
}
