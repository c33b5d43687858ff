package sortengine

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wezm/mkv-rename/internal/logging"
)

const DefaultConfigName = ".mkv-rename.yml"

type Config struct {
	TzOffset float64        `yaml:"tz_offset"`
	DryRun   bool           `yaml:"dry_run"`
	Verbose  bool           `yaml:"verbose"`
	Color    string         `yaml:"color"`
	Journal  JournalConfig  `yaml:"journal"`
	Exiftool ExiftoolConfig `yaml:"exiftool"`
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBFile  string `yaml:"database_file"`
}

type ExiftoolConfig struct {
	Fallback bool `yaml:"fallback"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
	Root string `yaml:"root"`
}

type ClientConfig struct {
	Host string `yaml:"host"`
}

// ConfigFlags holds command-line flag values that can override config file settings
type ConfigFlags struct {
	ConfigFile  string
	InitConfig  bool
	DryRun      bool
	TzOffset    float64
	TzOffsetSet bool
	Verbose     bool
	Color       string
	JournalFile string
	Exiftool    bool
	IP          string
	Port        int
	Root        string
	Host        string
}

func DefaultConfig() *Config {
	return &Config{
		TzOffset: 0,
		DryRun:   false,
		Verbose:  false,
		Color:    logging.ColorAuto,
		Journal: JournalConfig{
			Enabled: false,
			DBFile:  "%HOME%/.mkv-rename.db",
		},
		Exiftool: ExiftoolConfig{
			Fallback: false,
		},
		Server: ServerConfig{
			IP:   "localhost",
			Port: 8080,
			Root: "%HOME%/videos",
		},
		Client: ClientConfig{
			Host: "localhost:8080",
		},
	}
}

// GetDefaultConfigPath returns the default config file path (~/.mkv-rename.yml)
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultConfigName), nil
}

// CreateDefaultConfig writes the default config to configPath. An existing file is left alone.
func CreateDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("unable to create config file: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	defer encoder.Close()

	if err := encoder.Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("unable to encode config file: %w", err)
	}
	return nil
}

// LoadConfig reads the config file at configPath over the defaults. An empty configPath means
// the default location, which may be absent; a named file must exist.
func LoadConfig(configPath string) (*Config, error) {
	c := DefaultConfig()

	explicit := configPath != ""
	if !explicit {
		var err error
		configPath, err = GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return c, c.expand()
		}
		return nil, fmt.Errorf("unable to open config file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to decode config file %s: %w", configPath, err)
	}

	return c, c.expand()
}

// expand replaces %HOME% with the user's home directory.
func (c *Config) expand() error {
	if !strings.Contains(c.Journal.DBFile, "%HOME%") && !strings.Contains(c.Server.Root, "%HOME%") {
		return nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("unable to determine home directory: %w", err)
	}
	c.Journal.DBFile = strings.Replace(c.Journal.DBFile, "%HOME%", homeDir, 1)
	c.Server.Root = strings.Replace(c.Server.Root, "%HOME%", homeDir, 1)
	return nil
}

// ApplyFlags applies command-line flags to the config, overriding file values
func (c *Config) ApplyFlags(flags *ConfigFlags) {
	if flags.DryRun {
		c.DryRun = true
	}
	if flags.TzOffsetSet {
		c.TzOffset = flags.TzOffset
	}
	if flags.Verbose {
		c.Verbose = true
	}
	if flags.Color != "" {
		c.Color = flags.Color
	}
	if flags.JournalFile != "" {
		c.Journal.Enabled = true
		c.Journal.DBFile = flags.JournalFile
	}
	if flags.Exiftool {
		c.Exiftool.Fallback = true
	}
	if flags.IP != "" {
		c.Server.IP = flags.IP
	}
	if flags.Port > 0 {
		c.Server.Port = flags.Port
	}
	if flags.Root != "" {
		c.Server.Root = flags.Root
	}
	if flags.Host != "" {
		c.Client.Host = flags.Host
	}
}

func (c *Config) Validate() error {
	if !logging.ValidColorMode(c.Color) {
		return fmt.Errorf("invalid color mode %q (use 'auto', 'always' or 'never')", c.Color)
	}
	if _, err := OffsetFromHours(c.TzOffset); err != nil {
		return err
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.DBFile) == "" {
		return errors.New("journal enabled but database_file is empty")
	}
	if c.Server.Port < 0 || c.Server.Port > math.MaxUint16 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}
