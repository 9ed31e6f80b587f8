package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nvrd/nvrd/internal/logger"
	"github.com/nvrd/nvrd/internal/notify"
	"github.com/nvrd/nvrd/internal/transfer"
)

// Config is the top-level TOML structure for the daemon.
type Config struct {
	Server  ServerConfig       `mapstructure:"server"`
	Metrics MetricsConfig      `mapstructure:"metrics"`
	State   StateConfig        `mapstructure:"state"`
	Media   MediaConfig        `mapstructure:"media"`
	Capture CaptureConfig      `mapstructure:"capture"`
	Sweep   SweepConfig        `mapstructure:"sweep"`
	S3      transfer.S3Config  `mapstructure:"s3"`
	History HistoryConfig      `mapstructure:"history"`
	Notify  notify.Config      `mapstructure:"notify"`
	Log     logger.Config      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	BasePath string `mapstructure:"base_path"`
	// APIKey is the shared secret required on every API call. Empty
	// disables authentication (local deployments behind a firewall).
	APIKey string `mapstructure:"api_key"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the metrics listener
}

type StateConfig struct {
	Dir string `mapstructure:"dir"` // liveness tokens and the sweep lock
}

type MediaConfig struct {
	Root      string        `mapstructure:"root"`
	VideoExts []string      `mapstructure:"video_exts"`
	ImageExts []string      `mapstructure:"image_exts"`
	MinAge    time.Duration `mapstructure:"min_age"`
}

type CaptureConfig struct {
	FFmpeg    string `mapstructure:"ffmpeg"`
	Transport string `mapstructure:"transport"`
}

type SweepConfig struct {
	Schedule  string `mapstructure:"schedule"` // "@every 10m"
	Mover     string `mapstructure:"mover"`    // "rclone" (default) or "s3"
	Remote    string `mapstructure:"remote"`   // rclone destination
	Rclone    string `mapstructure:"rclone"`   // rclone binary
	Transfers int    `mapstructure:"transfers"`
	Checkers  int    `mapstructure:"checkers"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"` // sqlite path or postgres URL; empty disables
}

// Load reads a TOML config file and applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("state.dir", "/var/lib/nvrd")
	v.SetDefault("media.root", "/var/lib/nvrd/media")
	v.SetDefault("media.min_age", "30s")
	v.SetDefault("capture.ffmpeg", "ffmpeg")
	v.SetDefault("capture.transport", "tcp")
	v.SetDefault("sweep.schedule", "@every 10m")
	v.SetDefault("sweep.mover", "rclone")
	v.SetDefault("sweep.rclone", "rclone")
	v.SetDefault("sweep.transfers", 4)
	v.SetDefault("sweep.checkers", 8)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the combinations the daemon cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.State.Dir) == "" {
		return errors.New("state.dir required")
	}
	if strings.TrimSpace(c.Media.Root) == "" {
		return errors.New("media.root required")
	}
	switch c.Sweep.Mover {
	case "", "rclone":
		if strings.TrimSpace(c.Sweep.Remote) == "" {
			return errors.New("sweep.remote required for the rclone mover")
		}
	case "s3":
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return errors.New("s3.bucket required for the s3 mover")
		}
	default:
		return fmt.Errorf("unknown sweep.mover %q (want rclone or s3)", c.Sweep.Mover)
	}
	return nil
}
