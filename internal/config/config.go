package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Redis struct {
		Addr       string `yaml:"addr"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		AttemptTTL string `yaml:"attempt_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Cache struct {
		SnapshotTTL string `yaml:"snapshot_ttl"`
	} `yaml:"cache"`
	// Catalog seeds exams and cohorts; the course subsystem owns them in
	// production.
	Catalog struct {
		Exams   []ExamEntry   `yaml:"exams"`
		Cohorts []CohortEntry `yaml:"cohorts"`
	} `yaml:"catalog"`
}

type ExamEntry struct {
	ID       string `yaml:"id"`
	CourseID string `yaml:"course_id"`
	Title    string `yaml:"title"`
}

type CohortEntry struct {
	ID       string `yaml:"id"`
	CourseID string `yaml:"course_id"`
}

const (
	DefaultSnapshotTTL = 10 * time.Minute
	DefaultAttemptTTL  = 24 * time.Hour
)

// Default is the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads YAML config from path on top of Default. A missing file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override applies values set through flags or EXAMD_* environment
// variables. Keys are the flag names.
func (c *Config) Override(v *viper.Viper) {
	set := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	set("port", &c.Server.Port)
	set("log-level", &c.Log.Level)
	set("log-format", &c.Log.Format)
	set("jwt-secret", &c.Auth.JWTSecret)
	set("postgres-url", &c.Postgres.URL)
	set("redis-addr", &c.Redis.Addr)
	set("redis-password", &c.Redis.Password)
	set("attempt-ttl", &c.Redis.AttemptTTL)
	set("snapshot-ttl", &c.Cache.SnapshotTTL)
	if v.IsSet("redis-db") {
		c.Redis.DB = v.GetInt("redis-db")
	}
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

// Validate rejects values that would otherwise fail later at startup.
func (c Config) Validate() error {
	if _, err := Duration(c.Redis.AttemptTTL, DefaultAttemptTTL); err != nil {
		return fmt.Errorf("redis.attempt_ttl: %w", err)
	}
	if _, err := Duration(c.Cache.SnapshotTTL, DefaultSnapshotTTL); err != nil {
		return fmt.Errorf("cache.snapshot_ttl: %w", err)
	}
	return nil
}
