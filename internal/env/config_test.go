package env_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zapcore"

	"github.com/luma/tcpserial/internal/env"
)

var _ = Describe("env", func() {
	Describe("LoadConfig()", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "tcpserial-env")
			Expect(err).To(Succeed())
		})

		AfterEach(func() {
			os.Unsetenv("TCPSERIAL_PORT")
			os.Unsetenv("TCPSERIAL_HEARTBEAT_INTERVAL")
			Expect(os.RemoveAll(dir)).To(Succeed())
		})

		writeFile := func(name, content string) string {
			path := filepath.Join(dir, name)
			Expect(os.WriteFile(path, []byte(content), 0600)).To(Succeed())

			return path
		}

		It("falls back to defaults", func() {
			config, err := env.LoadConfig(context.Background(), "")
			Expect(err).To(Succeed())

			Expect(config.Host).To(Equal("127.0.0.1"))
			Expect(config.Port).To(Equal(31950))
			Expect(config.HTTPPort).To(Equal(31951))
			Expect(config.ReadTimeout).To(BeNumerically("<", 0))
			Expect(config.HeartbeatInterval).To(Equal(5 * time.Second))
			Expect(config.AckTimeout).To(Equal(500 * time.Millisecond))
			Expect(config.Reuseport).To(BeTrue())
			Expect(config.LogLevel).To(Equal("info"))
		})

		It("reads the environment", func() {
			os.Setenv("TCPSERIAL_PORT", "4000")
			os.Setenv("TCPSERIAL_HEARTBEAT_INTERVAL", "250ms")

			config, err := env.LoadConfig(context.Background(), "")
			Expect(err).To(Succeed())

			Expect(config.Port).To(Equal(4000))
			Expect(config.HeartbeatInterval).To(Equal(250 * time.Millisecond))
		})

		It("lets a YAML file override the environment", func() {
			os.Setenv("TCPSERIAL_PORT", "4000")

			path := writeFile("tcpserial.yaml", "port: 5000\nauto_reconnect: true\nlog_level: debug\n")

			config, err := env.LoadConfig(context.Background(), path)
			Expect(err).To(Succeed())

			Expect(config.Port).To(Equal(5000))
			Expect(config.AutoReconnect).To(BeTrue())
			Expect(config.LogLevel).To(Equal("debug"))
			Expect(config.Host).To(Equal("127.0.0.1"))
		})

		It("fails on a missing config file", func() {
			_, err := env.LoadConfig(context.Background(), filepath.Join(dir, "nope.yaml"))
			Expect(err).To(HaveOccurred())
		})

		It("fails on a malformed config file", func() {
			path := writeFile("bad.yaml", "port: [1, 2\n")

			_, err := env.LoadConfig(context.Background(), path)
			Expect(err).To(HaveOccurred())
		})

		It("maps onto session options", func() {
			config, err := env.LoadConfig(context.Background(), "")
			Expect(err).To(Succeed())

			opts := config.SessionOptions()
			Expect(opts.Host).To(Equal(config.Host))
			Expect(opts.Port).To(Equal(config.Port))
			Expect(opts.HeartbeatInterval).To(Equal(config.HeartbeatInterval))
			Expect(opts.MaxBufferSize).To(Equal(config.MaxBufferSize))
		})
	})

	Describe("MakeLogger()", func() {
		It("builds a logger at the requested level", func() {
			log, err := env.MakeLogger("warn")
			Expect(err).To(Succeed())
			Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeFalse())
			Expect(log.Core().Enabled(zapcore.WarnLevel)).To(BeTrue())
		})

		It("rejects unknown levels", func() {
			_, err := env.MakeLogger("chatty")
			Expect(err).To(HaveOccurred())
		})
	})
})
