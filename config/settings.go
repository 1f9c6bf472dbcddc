// Package config holds the settings record a managed connection is built
// from. Settings are always passed explicitly; nothing here is global.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAlias is the alias used when a caller doesn't name a connection.
const DefaultAlias = "default"

// Settings describes one logical database connection.
type Settings struct {
	// Engine selects the backend: postgres, pgx, mysql or sqlite3.
	Engine string `yaml:"engine"`

	// Name is the database name (the file path for sqlite3). An empty name
	// targets the server without a specific database.
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	// TimeZone overrides the zone used for naive datetimes. Only valid when
	// UseTZ is set and the backend doesn't handle time zones itself.
	TimeZone string `yaml:"time_zone"`

	// Autocommit is the mode a fresh connection is put in (default: true).
	Autocommit bool `yaml:"autocommit"`

	// ConnMaxAge bounds the lifetime of a connection. nil means it never
	// expires; zero closes it at the end of each unit of work.
	ConnMaxAge *time.Duration `yaml:"conn_max_age"`

	// Options are passed verbatim to the driver DSN.
	Options map[string]string `yaml:"options"`

	// UseTZ and Debug are copied from the top-level Config.
	UseTZ bool `yaml:"-"`
	Debug bool `yaml:"-"`
}

// Defaults returns the settings used for keys absent from a config file.
func Defaults() Settings {
	var zero time.Duration
	return Settings{
		Engine:     "sqlite3",
		Autocommit: true,
		ConnMaxAge: &zero,
	}
}

// Clone returns a deep copy so callers can alter the result freely.
func (s Settings) Clone() Settings {
	out := s
	if s.ConnMaxAge != nil {
		age := *s.ConnMaxAge
		out.ConnMaxAge = &age
	}
	if s.Options != nil {
		out.Options = make(map[string]string, len(s.Options))
		for k, v := range s.Options {
			out.Options[k] = v
		}
	}
	return out
}

// MaxAge is a convenience for building a ConnMaxAge value.
func MaxAge(d time.Duration) *time.Duration {
	return &d
}

// UnmarshalYAML applies Defaults before decoding so that absent keys keep
// their default while an explicit null conn_max_age means "never expire".
func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	type plain Settings
	p := plain(Defaults())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = Settings(p)
	return nil
}
