// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/esxi-keepalive/internal/models"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Defaults match the values the keepalive ran with before it was configurable.
const (
	DefaultSecretsSubpath = "scripts/secrets.json"
	DefaultSSHPort        = 22
	DefaultConnectTimeout = 5 * time.Second
	DefaultPrefix         = "win"
	DefaultRangeStart     = 201
	DefaultRangeEnd       = 226
	DefaultExcludeKeyword = "maintenance"
	DefaultInterval       = 60 * time.Second
	DefaultWOLBroadcastIP = "255.255.255.255"
)

// Parser handles configuration file parsing.
type Parser struct {
	v      *viper.Viper
	getenv func(string) string
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("secrets.source", models.SecretsSourceFile)
	v.SetDefault("ssh.port", DefaultSSHPort)
	v.SetDefault("ssh.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("target.prefix", DefaultPrefix)
	v.SetDefault("target.range_start", DefaultRangeStart)
	v.SetDefault("target.range_end", DefaultRangeEnd)
	v.SetDefault("target.exclude_keyword", DefaultExcludeKeyword)
	v.SetDefault("daemon.interval", DefaultInterval)

	return &Parser{v: v, getenv: os.Getenv}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults builds the configuration without a config file.
func (p *Parser) LoadDefaults() (*models.Config, error) {
	return p.parse()
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	cfg.Secrets = models.SecretsConfig{
		Source: strings.ToLower(p.v.GetString("secrets.source")),
		Path:   p.expandEnv(p.v.GetString("secrets.path")),
	}

	switch cfg.Secrets.Source {
	case models.SecretsSourceFile:
		if cfg.Secrets.Path == "" {
			home := p.getenv("HOME")
			if home == "" {
				return nil, fmt.Errorf("HOME is not set and secrets.path is not configured")
			}
			cfg.Secrets.Path = filepath.Join(home, DefaultSecretsSubpath)
		}
	case models.SecretsSourceEmbedded:
	default:
		return nil, fmt.Errorf("secrets.source must be one of: file, embedded")
	}

	cfg.SSH = models.SSHConfig{
		Port:           p.v.GetInt("ssh.port"),
		ConnectTimeout: p.v.GetDuration("ssh.connect_timeout"),
	}

	rangeStart, err := p.rangeBound("target.range_start")
	if err != nil {
		return nil, err
	}
	rangeEnd, err := p.rangeBound("target.range_end")
	if err != nil {
		return nil, err
	}

	cfg.Target = models.TargetPolicy{
		Prefix:         p.v.GetString("target.prefix"),
		RangeStart:     rangeStart,
		RangeEnd:       rangeEnd,
		ExcludeKeyword: p.v.GetString("target.exclude_keyword"),
	}

	cfg.Daemon = models.DaemonSettings{
		Interval: p.v.GetDuration("daemon.interval"),
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") {
		cfg.WOL = &models.WOLConfig{
			MACAddress:  p.v.GetString("wol.mac_address"),
			BroadcastIP: p.v.GetString("wol.broadcast_ip"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = DefaultWOLBroadcastIP
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// rangeBound reads a target range bound, rejecting negative and non-numeric values
// instead of letting them collapse to 0.
func (p *Parser) rangeBound(key string) (uint64, error) {
	n, err := cast.ToInt64E(p.v.Get(key))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return uint64(n), nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.Expand(s, p.getenv)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Secrets.Source == models.SecretsSourceFile && cfg.Secrets.Path == "" {
		return fmt.Errorf("secrets.path is required for the file source")
	}

	if cfg.SSH.Port <= 0 || cfg.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port must be between 1 and 65535")
	}
	if cfg.SSH.ConnectTimeout <= 0 {
		return fmt.Errorf("ssh.connect_timeout must be positive")
	}

	if cfg.Target.Prefix == "" {
		return fmt.Errorf("target.prefix is required")
	}
	if cfg.Target.RangeStart > cfg.Target.RangeEnd {
		return fmt.Errorf("target.range_start (%d) must not exceed target.range_end (%d)",
			cfg.Target.RangeStart, cfg.Target.RangeEnd)
	}

	if cfg.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon.interval must be positive")
	}

	return nil
}
