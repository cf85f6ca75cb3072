package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration decodes TOML strings such as "8s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ClusterConfig struct {
	Host      string   `toml:"host"`
	Port      int      `toml:"port"`
	Transport string   `toml:"transport"`
	Timeout   Duration `toml:"timeout"`
	User      string   `toml:"user"`
	Password  string   `toml:"password"`
}

type GatewayConfig struct {
	Listen string `toml:"listen"`
}

type BreakerConfig struct {
	Enabled          bool     `toml:"enabled"`
	FailureThreshold uint32   `toml:"failure_threshold"`
	MaxRequests      uint32   `toml:"max_requests"`
	OpenTimeout      Duration `toml:"open_timeout"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MockConfig struct {
	Listen  string            `toml:"listen"`
	Nodes   int               `toml:"nodes"`
	Proxies int               `toml:"proxies"`
	Default string            `toml:"default"`
	Results map[string]string `toml:"results"`
}

type Config struct {
	Cluster ClusterConfig `toml:"cluster"`
	Gateway GatewayConfig `toml:"gateway"`
	Breaker BreakerConfig `toml:"breaker"`
	Logging LoggingConfig `toml:"logging"`
	Mock    MockConfig    `toml:"mock"`
}

func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Host:      "127.0.0.1",
			Port:      6577,
			Transport: "rpc",
			Timeout:   Duration{8 * time.Second},
		},
		Gateway: GatewayConfig{Listen: ":8080"},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			MaxRequests:      1,
			OpenTimeout:      Duration{30 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Mock: MockConfig{
			Listen:  "127.0.0.1:6577",
			Nodes:   1,
			Proxies: 1,
		},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// LoadOptional behaves like Load but falls back to defaults when path is empty
// or the file does not exist.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("WUKONG_HOST"); v != "" {
		c.Cluster.Host = v
	}
	if v := getenv("WUKONG_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WUKONG_PORT: %w", err)
		}
		c.Cluster.Port = port
	}
	if v := getenv("WUKONG_TRANSPORT"); v != "" {
		c.Cluster.Transport = v
	}
	if v := getenv("WUKONG_TIMEOUT"); v != "" {
		if err := c.Cluster.Timeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("WUKONG_TIMEOUT: %w", err)
		}
	}
	if v := getenv("WUKONG_USER"); v != "" {
		c.Cluster.User = v
	}
	if v := getenv("WUKONG_PASSWORD"); v != "" {
		c.Cluster.Password = v
	}
	if v := getenv("GATEWAY_LISTEN"); v != "" {
		c.Gateway.Listen = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Cluster.Host) == "" {
		errs = append(errs, errors.New("cluster.host is required"))
	}
	if c.Cluster.Port < 1 || c.Cluster.Port > 65535 {
		errs = append(errs, fmt.Errorf("cluster.port %d out of range [1,65535]", c.Cluster.Port))
	}
	switch strings.ToLower(c.Cluster.Transport) {
	case "rpc", "bolt":
	default:
		errs = append(errs, fmt.Errorf("cluster.transport %q must be rpc or bolt", c.Cluster.Transport))
	}
	if c.Cluster.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("cluster.timeout must be positive"))
	}
	if c.Breaker.Enabled && c.Breaker.FailureThreshold == 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must be positive"))
	}
	return errors.Join(errs...)
}
