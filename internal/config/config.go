// Package config loads the immutable backstop configuration. A run builds
// one Config at process start and passes it to each component; nothing
// mutates it afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Destination is one mirror target. Label names a removable volume that
// gets mounted on demand; fixed volumes leave it empty.
type Destination struct {
	Name  string `yaml:"name" validate:"required"`
	Path  string `yaml:"path" validate:"required"`
	Label string `yaml:"label"`
}

// Retention holds the keep-counts handed to the engine's forget operation.
type Retention struct {
	Daily   int `yaml:"daily" validate:"min=1"`
	Weekly  int `yaml:"weekly" validate:"min=1"`
	Monthly int `yaml:"monthly" validate:"min=1"`
	Yearly  int `yaml:"yearly" validate:"min=1"`
}

type Config struct {
	// Backup engine scope.
	Sources     []string  `yaml:"sources" validate:"min=1,dive,required"`
	ExcludeFile string    `yaml:"exclude_file"`
	Tag         string    `yaml:"tag" validate:"required"`
	Retention   Retention `yaml:"retention"`

	// Secret handling.
	SecretFile   string `yaml:"secret_file" validate:"required"`
	GPGRecipient string `yaml:"gpg_recipient"`

	// Restore targets.
	RestoreDir string `yaml:"restore_dir" validate:"required"`
	MountDir   string `yaml:"mount_dir" validate:"required"`

	// VPN bypass.
	BypassHosts   []string `yaml:"bypass_hosts"`
	TunnelPattern string   `yaml:"tunnel_pattern" validate:"required"`
	RouteAccount  string   `yaml:"route_account" validate:"required"`

	// Mirror scope.
	MirrorSource      string        `yaml:"mirror_source" validate:"required"`
	MirrorExcludeFile string        `yaml:"mirror_exclude_file"`
	Destinations      []Destination `yaml:"destinations" validate:"dive"`

	// Scheduling cadences written into the timer units.
	BackupInterval string `yaml:"backup_interval" validate:"required"`
	MirrorInterval string `yaml:"mirror_interval" validate:"required"`

	// Ambient.
	LogDir   string `yaml:"log_dir" validate:"required"`
	LogLevel string `yaml:"log_level"`
}

// DefaultPath returns the config file location used when neither the
// --config flag nor BACKSTOP_CONFIG is set.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "backstop", "config.yaml")
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	user := getEnv("USER", "backup")
	confDir := filepath.Join(home, ".config", "backstop")
	return &Config{
		Sources:           []string{home},
		ExcludeFile:       filepath.Join(confDir, "exclude"),
		Tag:               "backstop",
		Retention:         Retention{Daily: 7, Weekly: 4, Monthly: 12, Yearly: 2},
		SecretFile:        filepath.Join(confDir, "repo-password.gpg"),
		GPGRecipient:      "",
		RestoreDir:        filepath.Join(home, "restore"),
		MountDir:          filepath.Join(home, "mnt", "backstop"),
		BypassHosts:       nil,
		TunnelPattern:     "^(tun|tap|wg|vpn)",
		RouteAccount:      user,
		MirrorSource:      home,
		MirrorExcludeFile: filepath.Join(confDir, "mirror-exclude"),
		Destinations:      nil,
		BackupInterval:    "30m",
		MirrorInterval:    "10m",
		LogDir:            filepath.Join(home, ".local", "state", "backstop"),
		LogLevel:          "info",
	}
}

// Load reads the configuration from path, falling back to BACKSTOP_CONFIG
// and then the default location. A missing file is created with the
// defaults so a fresh install has something to edit.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("BACKSTOP_CONFIG", DefaultPath())
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if werr := writeDefault(path, cfg); werr != nil {
			return nil, fmt.Errorf("create default config %s: %w", path, werr)
		}
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.expandPaths()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeDefault(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := "# backstop configuration. Generated with defaults; edit freely.\n" +
		"# gpg_recipient must be set before `backstop init`.\n" +
		"# destinations is the backstop-mirror target list; label names a\n" +
		"# removable volume mounted on demand via udisksctl.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o600)
}

func (c *Config) expandPaths() {
	c.ExcludeFile = expandHome(c.ExcludeFile)
	c.SecretFile = expandHome(c.SecretFile)
	c.RestoreDir = expandHome(c.RestoreDir)
	c.MountDir = expandHome(c.MountDir)
	c.MirrorSource = expandHome(c.MirrorSource)
	c.MirrorExcludeFile = expandHome(c.MirrorExcludeFile)
	c.LogDir = expandHome(c.LogDir)
	for i := range c.Sources {
		c.Sources[i] = expandHome(c.Sources[i])
	}
	for i := range c.Destinations {
		c.Destinations[i].Path = expandHome(c.Destinations[i].Path)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
