package cmd

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/cmd/gen"
	"github.com/luma/tcpserial/internal/env"
)

var (
	// Path of an optional YAML config file
	configPath string

	// The host to listen on, or connect to
	host string

	// The port to listen on, or connect to
	port int

	heartbeat time.Duration
	logLevel  string
)

var RootCmd = &cobra.Command{
	Use:   "tcpserial",
	Short: "Serial port style line links over TCP",
	Long: `Serial port style line links over TCP

Usage
	tcpserial serve
	tcpserial connect --host 10.0.0.5

`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&configPath, "config", "c", "", "YAML config file, overrides the environment")
	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host to listen on, or connect to")
	flags.IntVarP(&port, "port", "p", 31950, "The port to listen on, or connect to")
	flags.DurationVar(&heartbeat, "heartbeat", 5*time.Second, "Interval between BA-BUM heartbeats, 0 disables them")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	RootCmd.AddCommand(ServeCmd, ConnectCmd, VersionCmd, gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and lets flags that were set on the command
// line win.
func loadConfig(ctx context.Context, cmd *cobra.Command) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx, configPath)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("host") {
		conf.Host = host
	}

	if flags.Changed("port") {
		conf.Port = port
	}

	if flags.Changed("heartbeat") {
		conf.HeartbeatInterval = heartbeat
	}

	if flags.Changed("log-level") {
		conf.LogLevel = logLevel
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
