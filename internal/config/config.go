package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port" env:"PORT"`
		AllowedOrigins []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"server"`
	Redis struct {
		Addr        string `yaml:"addr" env:"REDIS_ADDR"`
		Password    string `yaml:"password" env:"REDIS_PASSWORD"`
		DB          int    `yaml:"db" env:"REDIS_DB"`
		EventPrefix string `yaml:"eventPrefix" env:"REDIS_EVENT_PREFIX"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl" env:"QUIZ_TTL"`
	} `yaml:"quiz"`
	Sweep struct {
		Interval string `yaml:"interval" env:"SWEEP_INTERVAL"`
		Debounce string `yaml:"debounce" env:"SWEEP_DEBOUNCE"`
	} `yaml:"sweep"`
}

// Load reads YAML config from path, then applies environment overrides. A
// .env file in the working directory is loaded first when present. A
// missing YAML file is not an error so the service can run from env alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
