package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/screenocr/internal/device"
)

// Config holds screenocr configuration.
// Read from: --config, ./config.yaml, or {install_dir}/config.yaml
type Config struct {
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Models    ModelsCfg    `mapstructure:"models" yaml:"models"`
	Inference InferenceCfg `mapstructure:"inference" yaml:"inference"`
	Log       LogCfg       `mapstructure:"log" yaml:"log"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// ModelsCfg configures model loading.
type ModelsCfg struct {
	Engine   string `mapstructure:"engine" yaml:"engine"`       // "tesseract", "mock"
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"` // empty: {install_dir}/ocr_models
	Device   string `mapstructure:"device" yaml:"device"`       // "auto", "cuda", "mps", "cpu"
	Warmup   bool   `mapstructure:"warmup" yaml:"warmup"`
	Preload  bool   `mapstructure:"preload" yaml:"preload"` // load in the background at startup
}

// InferenceCfg configures request processing.
type InferenceCfg struct {
	MaxConcurrency int      `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	DefaultLangs   []string `mapstructure:"default_langs" yaml:"default_langs"`
}

// LogCfg configures logging.
type LogCfg struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
}

// Addr returns host:port for the listener.
func (s ServerCfg) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SlogLevel parses the configured level.
func (l LogCfg) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Models.Engine) == "" {
		return fmt.Errorf("models.engine is required")
	}
	if _, err := device.ParseKind(c.Models.Device); err != nil {
		return fmt.Errorf("models.device: %w", err)
	}
	if c.Inference.MaxConcurrency < 1 {
		return fmt.Errorf("inference.max_concurrency must be at least 1, got %d", c.Inference.MaxConcurrency)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
