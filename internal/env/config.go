package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/tcpserial/transport"
)

type Config struct {
	// Host the server listens on, or the client dials
	Host string `env:"TCPSERIAL_HOST,default=127.0.0.1" yaml:"host"`

	// Port for serial clients
	Port int `env:"TCPSERIAL_PORT,default=31950" yaml:"port"`

	// HTTPPort for the control API, 0 disables it
	HTTPPort int `env:"TCPSERIAL_HTTP_PORT,default=31951" yaml:"http_port"`

	// ReadTimeout is negative to block forever
	ReadTimeout       time.Duration `env:"TCPSERIAL_READ_TIMEOUT,default=-1s" yaml:"read_timeout"`
	WriteTimeout      time.Duration `env:"TCPSERIAL_WRITE_TIMEOUT,default=5s" yaml:"write_timeout"`
	HeartbeatInterval time.Duration `env:"TCPSERIAL_HEARTBEAT_INTERVAL,default=5s" yaml:"heartbeat_interval"`
	AckTimeout        time.Duration `env:"TCPSERIAL_ACK_TIMEOUT,default=500ms" yaml:"ack_timeout"`
	MaxBufferSize     int           `env:"TCPSERIAL_MAX_BUFFER_SIZE,default=1048576" yaml:"max_buffer_size"`

	AutoReconnect bool `env:"TCPSERIAL_AUTO_RECONNECT" yaml:"auto_reconnect"`
	Reuseport     bool `env:"TCPSERIAL_REUSEPORT,default=true" yaml:"reuseport"`

	LogLevel  string `env:"TCPSERIAL_LOG_LEVEL,default=info" yaml:"log_level"`
	DebugHTTP bool   `env:"TCPSERIAL_DEBUG_HTTP" yaml:"debug_http"`
}

// LoadConfig reads .env.local if there is one, then the environment, then
// the YAML file at path when path is not empty. Keys set in the file win over
// the environment.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading .env.local: %w", err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	return &config, nil
}

// SessionOptions is the per connection part of the config.
func (c *Config) SessionOptions() transport.SessionOptions {
	return transport.SessionOptions{
		Host:              c.Host,
		Port:              c.Port,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		AckTimeout:        c.AckTimeout,
		MaxBufferSize:     c.MaxBufferSize,
	}
}
