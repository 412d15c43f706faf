// Package config loads the engine's YAML configuration
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nainya/cmsengine/pkg/layout"
)

// ErrInvalid is returned when a loaded configuration fails validation
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration file
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Resolver ResolverConfig `yaml:"resolver"`

	// Layouts may be declared inline, in a separate file, or both
	Layouts     []layout.Layout `yaml:"layouts"`
	LayoutsFile string          `yaml:"layouts_file"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	GrpcPort    int `yaml:"grpc_port"`
	MetricsPort int `yaml:"metrics_port"` // 0 disables the observability server
	MaxMsgBytes int `yaml:"max_msg_bytes"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ResolverConfig bounds resolution work
type ResolverConfig struct {
	MaxDepth    int `yaml:"max_depth"`
	Parallelism int `yaml:"parallelism"`
}

// Default returns a configuration that runs locally without a file
func Default() Config {
	return Config{
		Server: ServerConfig{
			GrpcPort:    50051,
			MetricsPort: 9090,
			MaxMsgBytes: 16 << 20,
		},
		Database: DatabaseConfig{
			Path:     "cmsengine.db",
			PoolSize: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
		Resolver: ResolverConfig{
			MaxDepth:    256,
			Parallelism: 8,
		},
	}
}

// Load reads YAML from r over the defaults
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a configuration file. An empty path yields the defaults.
func LoadFile(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (c *Config) validate() error {
	if c.Server.GrpcPort <= 0 || c.Server.GrpcPort > 65535 {
		return fmt.Errorf("%w: server.grpc_port %d out of range", ErrInvalid, c.Server.GrpcPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("%w: server.metrics_port %d out of range", ErrInvalid, c.Server.MetricsPort)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalid)
	}
	if c.Server.MaxMsgBytes <= 0 {
		c.Server.MaxMsgBytes = 16 << 20
	}
	if c.Database.PoolSize <= 0 {
		c.Database.PoolSize = 4
	}
	if c.Resolver.MaxDepth <= 0 {
		c.Resolver.MaxDepth = 256
	}
	if c.Resolver.Parallelism <= 0 {
		c.Resolver.Parallelism = 8
	}
	return nil
}

// Registry builds the layout registry from inline layouts and LayoutsFile
func (c *Config) Registry() (*layout.Registry, error) {
	reg := layout.NewRegistry()
	for _, l := range c.Layouts {
		if err := reg.Register(l); err != nil {
			return nil, err
		}
	}
	if c.LayoutsFile != "" {
		if err := reg.LoadFile(c.LayoutsFile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
