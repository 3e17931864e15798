package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/api"
	"github.com/luma/tcpserial/internal/console"
	"github.com/luma/tcpserial/transport"
)

var (
	// The port to listen for http requests on
	httpPort int

	noReuseport bool
)

func init() {
	flags := ServeCmd.Flags()

	flags.IntVar(&httpPort, "http-port", 31951, "The port to listen to HTTP requests on, 0 disables the API")
	flags.BoolVar(&noReuseport, "no-reuseport", false, "Do not set SO_REUSEPORT on the listener")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept serial clients over TCP",
	Long: `Accept serial clients over TCP

Lines typed on stdin are broadcast to every client, except for the
commands "clients", "send <id> <line>", "close [id]" and "exit".

Usage
	tcpserial serve

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		sigCtx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		ctx, cancel := context.WithCancel(sigCtx)
		defer cancel()

		conf, log, err := loadConfig(ctx, cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		if cmd.Flags().Changed("http-port") {
			conf.HTTPPort = httpPort
		}

		if noReuseport {
			conf.Reuseport = false
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		server := transport.NewServer(transport.Options{
			Host:      conf.Host,
			Port:      conf.Port,
			Reuseport: conf.Reuseport,
			Session:   conf.SessionOptions(),
			Log:       log.Named("transport"),
		})

		printer := console.NewPrinter(os.Stdout)
		unsubscribe := server.Subscribe(printer.Event)
		defer unsubscribe()

		if err := server.Start(ctx); err != nil {
			return err
		}

		var s *http.Server
		if conf.HTTPPort > 0 {
			s = &http.Server{
				Addr:    net.JoinHostPort(conf.Host, strconv.Itoa(conf.HTTPPort)),
				Handler: api.NewRouter(server, log, conf.DebugHTTP),
			}

			// Initializing the server in a goroutine so that
			// it won't block the graceful shutdown handling below
			go func() {
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Stringer("addr", server.Addr()))

		go console.Run(ctx, os.Stdin, console.ServerCommands(server, printer), cancel, log)

		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if s != nil {
			// The context is used to inform the server it has 5 seconds to finish
			// the request it is currently handling
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()

			s.SetKeepAlivesEnabled(false)

			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := server.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}
