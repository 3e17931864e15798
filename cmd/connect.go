package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/client"
	"github.com/luma/tcpserial/internal/console"
)

var autoReconnect bool

func init() {
	ConnectCmd.Flags().BoolVarP(&autoReconnect, "auto-reconnect", "r", false, "Reconnect when the connection drops")
}

var ConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a tcpserial server as a client",
	Long: `Connect to a tcpserial server as a client

Lines typed on stdin are sent to the server, except for the commands
"id", "whoami", "close" and "exit".

Usage
	tcpserial connect --host 10.0.0.5 --auto-reconnect

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sigCtx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		ctx, cancel := context.WithCancel(sigCtx)
		defer cancel()

		conf, log, err := loadConfig(ctx, cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		if cmd.Flags().Changed("auto-reconnect") {
			conf.AutoReconnect = autoReconnect
		}

		c := client.New(client.Options{
			Session:       conf.SessionOptions(),
			AutoReconnect: conf.AutoReconnect,
			Log:           log.Named("client"),
		})

		printer := console.NewPrinter(os.Stdout)
		unsubscribe := c.Subscribe(printer.Event)
		defer unsubscribe()

		go console.Run(ctx, os.Stdin, console.ClientCommands(c, printer), cancel, log)

		err = c.Run(ctx)

		if cerr := c.Close(); cerr != nil {
			log.Warn("Client did not close cleanly", zap.Error(cerr))
		}

		log.Info("Exiting")

		return err
	},
}
