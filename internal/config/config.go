package config

import (
	"errors"
	"os"
	"time"

	"github.com/loykin/profilr/internal/devtools"
	"github.com/loykin/profilr/internal/gpm"
	"github.com/loykin/profilr/internal/inject"
	"github.com/loykin/profilr/internal/logger"
	"github.com/loykin/profilr/internal/manager"
	"github.com/spf13/viper"
)

// Config represents the top-level TOML structure.
type Config struct {
	Listen    string    `toml:"listen" mapstructure:"listen"`
	TLS       TLS       `toml:"tls" mapstructure:"tls"`
	Upstream  Upstream  `toml:"upstream" mapstructure:"upstream"`
	Launch    Launch    `toml:"launch" mapstructure:"launch"`
	Discovery Discovery `toml:"discovery" mapstructure:"discovery"`
	Inject    Inject    `toml:"inject" mapstructure:"inject"`
	Log       Log       `toml:"log" mapstructure:"log"`
}

// TLS configures optional HTTPS serving. The zero value keeps the server on
// plain HTTP. Either point CertFile/KeyFile at an existing pair or set Dir
// with AutoGenerate to let the server mint a self-signed pair on first start.
type TLS struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	CommonName   string `toml:"common_name" mapstructure:"common_name"`
	ValidDays    int    `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string `toml:"max_version" mapstructure:"max_version"`
}

// Upstream configures the profile manager launch client.
type Upstream struct {
	BaseURL string        `toml:"base_url" mapstructure:"base_url"`
	Token   string        `toml:"token" mapstructure:"token"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// Launch bounds concurrent launches and fixes the browser window geometry.
type Launch struct {
	MaxConcurrent int     `toml:"max_concurrent" mapstructure:"max_concurrent"`
	WinWidth      int     `toml:"win_width" mapstructure:"win_width"`
	WinHeight     int     `toml:"win_height" mapstructure:"win_height"`
	WinPosX       int     `toml:"win_pos_x" mapstructure:"win_pos_x"`
	WinPosY       int     `toml:"win_pos_y" mapstructure:"win_pos_y"`
	WinScale      float64 `toml:"win_scale" mapstructure:"win_scale"`
}

// Discovery tunes the devtools endpoint polling.
type Discovery struct {
	Timeout      time.Duration `toml:"timeout" mapstructure:"timeout"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

// Inject configures the script injection engine.
type Inject struct {
	FallbackScript string `toml:"fallback_script" mapstructure:"fallback_script"`
}

// Log mirrors the logger package config in TOML form.
type Log struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Default returns the built-in configuration: a local profile manager on
// 127.0.0.1:19995, at most three concurrent launches and a 1920x1080 window.
func Default() Config {
	w := gpm.DefaultWindow()
	return Config{
		Listen: ":8080",
		Upstream: Upstream{
			BaseURL: gpm.DefaultBaseURL,
			Timeout: gpm.DefaultTimeout,
		},
		Launch: Launch{
			MaxConcurrent: manager.DefaultMaxConcurrent,
			WinWidth:      w.Width,
			WinHeight:     w.Height,
			WinPosX:       w.PosX,
			WinPosY:       w.PosY,
			WinScale:      w.Scale,
		},
		Discovery: Discovery{
			Timeout:      devtools.DefaultTimeout,
			PollInterval: devtools.DefaultPollInterval,
			ProbeTimeout: devtools.DefaultProbeTimeout,
		},
		Inject: Inject{
			FallbackScript: inject.DefaultFallbackScript,
		},
		Log: Log{
			Level: "info",
			File:  logger.DefaultFileName,
		},
	}
}

// Load reads a TOML config file and overlays it on Default(). Keys absent from
// the file keep their default values. An empty path or a missing file yields
// the defaults unchanged; a file that exists but does not parse is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Window returns the configured launch geometry in the launch client's shape.
func (l Launch) Window() gpm.Window {
	return gpm.Window{
		Width:  l.WinWidth,
		Height: l.WinHeight,
		PosX:   l.WinPosX,
		PosY:   l.WinPosY,
		Scale:  l.WinScale,
	}
}

// Options returns the configured discovery tuning in devtools form.
func (d Discovery) Options() devtools.Options {
	return devtools.Options{
		Timeout:      d.Timeout,
		PollInterval: d.PollInterval,
		ProbeTimeout: d.ProbeTimeout,
	}
}

// LoggerConfig maps the [log] section onto the logger package config.
func (l Log) LoggerConfig() logger.Config {
	return logger.Config{
		Level: l.Level,
		Color: l.Color,
		File: logger.FileConfig{
			Dir:        l.Dir,
			Name:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}
