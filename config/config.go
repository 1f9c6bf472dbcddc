package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	// UseTZ enables time-zone aware datetimes.
	UseTZ bool `yaml:"use_tz"`

	// Debug turns on the per-connection query log.
	Debug bool `yaml:"debug"`

	// Databases maps aliases to connection settings.
	Databases map[string]Settings `yaml:"databases"`
}

// envOverrides are read with the JCONN prefix, e.g. JCONN_DB_NAME.
// They only apply to the default alias.
type envOverrides struct {
	Engine     string `envconfig:"DB_ENGINE"`
	Name       string `envconfig:"DB_NAME"`
	User       string `envconfig:"DB_USER"`
	Password   string `envconfig:"DB_PASSWORD"`
	Host       string `envconfig:"DB_HOST"`
	Port       int    `envconfig:"DB_PORT"`
	TimeZone   string `envconfig:"DB_TIME_ZONE"`
	ConnMaxAge string `envconfig:"DB_CONN_MAX_AGE"`
	Debug      bool   `envconfig:"DEBUG"`
}

// Load reads the YAML file at path (skipped when empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.propagate()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for use in main during startup.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("JCONN", &env); err != nil {
		return fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if c.Databases == nil {
		c.Databases = make(map[string]Settings)
	}
	s, ok := c.Databases[DefaultAlias]
	if !ok {
		if env.Name == "" {
			c.Debug = c.Debug || env.Debug
			return nil
		}
		s = Defaults()
	}

	if env.Engine != "" {
		s.Engine = env.Engine
	}
	if env.Name != "" {
		s.Name = env.Name
	}
	if env.User != "" {
		s.User = env.User
	}
	if env.Password != "" {
		s.Password = env.Password
	}
	if env.Host != "" {
		s.Host = env.Host
	}
	if env.Port != 0 {
		s.Port = env.Port
	}
	if env.TimeZone != "" {
		s.TimeZone = env.TimeZone
	}
	if env.ConnMaxAge != "" {
		if strings.EqualFold(env.ConnMaxAge, "none") {
			s.ConnMaxAge = nil
		} else {
			d, err := time.ParseDuration(env.ConnMaxAge)
			if err != nil {
				return fmt.Errorf("invalid JCONN_DB_CONN_MAX_AGE: %w", err)
			}
			s.ConnMaxAge = &d
		}
	}
	c.Debug = c.Debug || env.Debug
	c.Databases[DefaultAlias] = s
	return nil
}

// propagate copies the top-level flags into every alias.
func (c *Config) propagate() {
	for alias, s := range c.Databases {
		s.UseTZ = c.UseTZ
		s.Debug = c.Debug
		c.Databases[alias] = s
	}
}

// Validate checks the file-level shape. Cross-field checks that depend on the
// backend (time zones) run when a connection is opened.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("no databases configured")
	}
	if _, ok := c.Databases[DefaultAlias]; !ok {
		return fmt.Errorf("you must define a '%s' database", DefaultAlias)
	}
	for alias, s := range c.Databases {
		if s.Engine == "" {
			return fmt.Errorf("database '%s': engine is required", alias)
		}
		if s.Name == "" {
			return fmt.Errorf("database '%s': please supply the name value", alias)
		}
		if s.ConnMaxAge != nil && *s.ConnMaxAge < 0 {
			return fmt.Errorf("database '%s': conn_max_age must not be negative", alias)
		}
	}
	return nil
}
