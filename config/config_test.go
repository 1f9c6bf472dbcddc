package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "databases.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("DefaultsAndPropagation", func(t *testing.T) {
		path := writeConfig(t, `
use_tz: true
debug: true
databases:
  default:
    engine: sqlite3
    name: ":memory:"
  reporting:
    engine: postgres
    name: reports
    host: db.internal
    port: 5432
    autocommit: false
    conn_max_age: 90s
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		def := cfg.Databases["default"]
		if !def.Autocommit {
			t.Errorf("autocommit should default to true")
		}
		if def.ConnMaxAge == nil || *def.ConnMaxAge != 0 {
			t.Errorf("absent conn_max_age should default to 0, got %v", def.ConnMaxAge)
		}
		if !def.UseTZ || !def.Debug {
			t.Errorf("top-level flags were not propagated: %+v", def)
		}

		rep := cfg.Databases["reporting"]
		if rep.Autocommit {
			t.Errorf("explicit autocommit: false was ignored")
		}
		if rep.ConnMaxAge == nil || *rep.ConnMaxAge != 90*time.Second {
			t.Errorf("conn_max_age = %v, want 90s", rep.ConnMaxAge)
		}
	})

	t.Run("NullMaxAgeNeverExpires", func(t *testing.T) {
		path := writeConfig(t, `
databases:
  default:
    engine: sqlite3
    name: app.db
    conn_max_age: null
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Databases["default"].ConnMaxAge != nil {
			t.Errorf("null conn_max_age should mean no limit")
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("JCONN_DB_NAME", "override.db")
		t.Setenv("JCONN_DB_CONN_MAX_AGE", "none")
		path := writeConfig(t, `
databases:
  default:
    engine: sqlite3
    name: app.db
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		def := cfg.Databases["default"]
		if def.Name != "override.db" {
			t.Errorf("name = %q, want override.db", def.Name)
		}
		if def.ConnMaxAge != nil {
			t.Errorf("JCONN_DB_CONN_MAX_AGE=none should clear the limit")
		}
	})

	t.Run("EnvOnly", func(t *testing.T) {
		t.Setenv("JCONN_DB_ENGINE", "sqlite3")
		t.Setenv("JCONN_DB_NAME", "env.db")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Databases["default"].Name != "env.db" {
			t.Errorf("default alias not built from environment: %+v", cfg.Databases)
		}
	})

	t.Run("MissingDefault", func(t *testing.T) {
		path := writeConfig(t, `
databases:
  other:
    engine: sqlite3
    name: other.db
`)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for missing default alias")
		}
	})

	t.Run("MissingName", func(t *testing.T) {
		path := writeConfig(t, `
databases:
  default:
    engine: postgres
`)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for missing name")
		}
	})
}

func TestSettingsClone(t *testing.T) {
	s := Defaults()
	s.Options = map[string]string{"sslmode": "disable"}
	c := s.Clone()
	*c.ConnMaxAge = time.Hour
	c.Options["sslmode"] = "require"

	if *s.ConnMaxAge != 0 {
		t.Errorf("clone shares ConnMaxAge with the original")
	}
	if s.Options["sslmode"] != "disable" {
		t.Errorf("clone shares Options with the original")
	}
}
