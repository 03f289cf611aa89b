// Package config loads the node configuration from YAML and ACCREDIT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"accredit/pkg/auth"
	"accredit/pkg/utils"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "accredit"

type Config struct {
	Server   ServerConfig  `yaml:"server"   envconfig:"SERVER"`
	Storage  StorageConfig `yaml:"storage"  envconfig:"STORAGE"`
	Programs ProgramConfig `yaml:"programs" envconfig:"PROGRAMS"`
	Auth     auth.Config   `yaml:"auth"     envconfig:"AUTH"`
	Client   ClientConfig  `yaml:"client"   envconfig:"CLIENT"`
	LogLevel string        `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

type ServerConfig struct {
	Address        string `yaml:"address"         envconfig:"ADDRESS"`
	MetricsAddress string `yaml:"metrics_address" envconfig:"METRICS_ADDRESS"`
}

type StorageConfig struct {
	// DataDir empty keeps everything in memory
	DataDir          string        `yaml:"data_dir"            envconfig:"DATA_DIR"`
	BlockCacheSize   string        `yaml:"block_cache_size"    envconfig:"BLOCK_CACHE_SIZE"`
	ValueLogFileSize string        `yaml:"value_log_file_size" envconfig:"VALUE_LOG_FILE_SIZE"`
	GCInterval       time.Duration `yaml:"gc_interval"         envconfig:"GC_INTERVAL"`
	AuditLog         bool          `yaml:"audit_log"           envconfig:"AUDIT_LOG"`
}

// ProgramConfig names the two programs. Names are hashed into program ids, so
// every node of one federation must agree on them.
type ProgramConfig struct {
	Validator     string `yaml:"validator"      envconfig:"VALIDATOR"`
	Certificate   string `yaml:"certificate"    envconfig:"CERTIFICATE"`
	RegistrySlack uint32 `yaml:"registry_slack" envconfig:"REGISTRY_SLACK"`
	MaxVoters     uint32 `yaml:"max_voters"     envconfig:"MAX_VOTERS"`
	// FilterSize is the memory given to the issued-hash filter
	FilterSize string `yaml:"filter_size" envconfig:"FILTER_SIZE"`
}

type ClientConfig struct {
	ServerAddress string        `yaml:"server_address" envconfig:"SERVER_ADDRESS"`
	KeyPath       string        `yaml:"key_path"       envconfig:"KEY_PATH"`
	Timeout       time.Duration `yaml:"timeout"        envconfig:"TIMEOUT"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":7400",
			MetricsAddress: ":9400",
		},
		Storage: StorageConfig{
			DataDir:          filepath.Join(Dir(), "data"),
			BlockCacheSize:   "64MiB",
			ValueLogFileSize: "256MiB",
			GCInterval:       5 * time.Minute,
			AuditLog:         true,
		},
		Programs: ProgramConfig{
			Validator:     "institute-validator",
			Certificate:   "certificate-system",
			RegistrySlack: 50,
			MaxVoters:     50,
			FilterSize:    "1MiB",
		},
		Auth: auth.DefaultConfig(),
		Client: ClientConfig{
			ServerAddress: "localhost:7400",
			KeyPath:       filepath.Join(Dir(), "identity.key"),
			Timeout:       10 * time.Second,
		},
		LogLevel: "info",
	}
}

// Dir is the per-user configuration directory: $ACCREDIT_HOME, then
// $XDG_CONFIG_HOME/accredit, then ~/.accredit.
func Dir() string {
	if dir := os.Getenv("ACCREDIT_HOME"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "accredit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".accredit"
	}
	return filepath.Join(home, ".accredit")
}

func DefaultPath() string {
	return filepath.Join(Dir(), "accredit.yaml")
}

// Load builds the configuration from defaults, then the YAML file at path,
// then the environment. An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating the parent directory
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server address is required")
	}
	if _, err := c.Storage.BlockCacheBytes(); err != nil {
		return fmt.Errorf("invalid block cache size: %w", err)
	}
	if _, err := c.Storage.ValueLogFileBytes(); err != nil {
		return fmt.Errorf("invalid value log file size: %w", err)
	}
	if c.Storage.GCInterval < 0 {
		return errors.New("gc interval must not be negative")
	}
	if c.Programs.Validator == "" || c.Programs.Certificate == "" {
		return errors.New("program names are required")
	}
	if c.Programs.Validator == c.Programs.Certificate {
		return errors.New("validator and certificate programs must differ")
	}
	if c.Programs.MaxVoters == 0 {
		return errors.New("max voters must be positive")
	}
	if _, err := c.Programs.FilterBits(); err != nil {
		return fmt.Errorf("invalid filter size: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}
	return nil
}

// Level parses LogLevel
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

func (s StorageConfig) BlockCacheBytes() (int64, error) {
	return utils.ParseDataSize(s.BlockCacheSize)
}

func (s StorageConfig) ValueLogFileBytes() (int64, error) {
	return utils.ParseDataSize(s.ValueLogFileSize)
}

// FilterBits is FilterSize in bits
func (p ProgramConfig) FilterBits() (uint, error) {
	size, err := utils.ParseDataSize(p.FilterSize)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, errors.New("filter size must be positive")
	}
	return uint(size) * 8, nil
}
