// Package config loads settings from an optional YAML file, then lets
// environment variables override individual keys.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr          string     `yaml:"http_addr"`
	DBPath            string     `yaml:"db_path"`
	MigrationsPath    string     `yaml:"migrations_path"`
	Timezone          string     `yaml:"timezone"`
	ReconcileInterval Duration   `yaml:"reconcile_interval"`
	LogLevel          string     `yaml:"log_level"`
	Controller        Controller `yaml:"controller"`
}

type Controller struct {
	URL                string   `yaml:"url"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	Site               string   `yaml:"site"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	Timeout            Duration `yaml:"timeout"`
}

// Duration accepts Go duration strings ("90s", "1h") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func defaults() Config {
	return Config{
		HTTPAddr:       "127.0.0.1:8080",
		DBPath:         "./nua.db",
		MigrationsPath: "file://db/migrations",
		Timezone:       "Local",
		LogLevel:       "info",
		Controller: Controller{
			Site:    "default",
			Timeout: Duration(10 * time.Second),
		},
	}
}

// Load reads path when it is non-empty, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only touch the
// database.
func Read(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.MigrationsPath = getEnv("MIGRATIONS_PATH", c.MigrationsPath)
	c.Timezone = getEnv("TZ_NAME", c.Timezone)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Controller.URL = getEnv("UNIFI_URL", c.Controller.URL)
	c.Controller.Username = getEnv("UNIFI_USERNAME", c.Controller.Username)
	c.Controller.Password = getEnv("UNIFI_PASSWORD", c.Controller.Password)
	c.Controller.Site = getEnv("UNIFI_SITE", c.Controller.Site)

	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing RECONCILE_INTERVAL: %w", err)
		}
		c.ReconcileInterval = Duration(d)
	}
	if v := os.Getenv("UNIFI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing UNIFI_TIMEOUT: %w", err)
		}
		c.Controller.Timeout = Duration(d)
	}
	if v := os.Getenv("UNIFI_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing UNIFI_INSECURE: %w", err)
		}
		c.Controller.InsecureSkipVerify = b
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Controller.URL == "" {
		errs = append(errs, errors.New("controller url is required"))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("reconcile_interval must not be negative"))
	}
	if c.Controller.Timeout <= 0 {
		errs = append(errs, errors.New("controller timeout must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
