package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config keeps runtime settings for the generator service.
type Config struct {
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`
	HTTPAddr       string `yaml:"http_addr"`

	// HorizonDays is how many days past today instances are materialized.
	HorizonDays int `yaml:"horizon_days"`
	// GenerateAt is the daily HH:MM run time. GenerateCron, a six-field cron
	// spec, takes precedence when set.
	GenerateAt   string        `yaml:"generate_at"`
	GenerateCron string        `yaml:"generate_cron"`
	Timezone     string        `yaml:"timezone"`
	WeekStart    string        `yaml:"week_start"`
	Concurrency  int           `yaml:"generate_concurrency"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	TelegramToken  string  `yaml:"telegram_token"`
	TelegramAdmins []int64 `yaml:"telegram_admins"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DatabaseDriver: DriverSQLite,
		DatabaseURL:    "recurring_planner.db",
		HTTPAddr:       ":8080",
		HorizonDays:    90,
		GenerateAt:     "03:00",
		Timezone:       "UTC",
		WeekStart:      "sunday",
		Concurrency:    4,
		BatchTimeout:   2 * time.Minute,
		LogLevel:       "info",
	}
}

// LoadDotEnv loads variables from .env style files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (Config, error) {
	return LoadFrom(path, os.Getenv)
}

// LoadFrom is Load with a custom environment lookup.
func LoadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	setString := func(key string, dst *string) {
		if v := env(key); v != "" {
			*dst = v
		}
	}
	setString("DATABASE_DRIVER", &c.DatabaseDriver)
	setString("DATABASE_URL", &c.DatabaseURL)
	setString("HTTP_ADDR", &c.HTTPAddr)
	setString("GENERATE_AT", &c.GenerateAt)
	setString("GENERATE_CRON", &c.GenerateCron)
	setString("TIMEZONE", &c.Timezone)
	setString("WEEK_START", &c.WeekStart)
	setString("TELEGRAM_TOKEN", &c.TelegramToken)
	setString("LOG_LEVEL", &c.LogLevel)

	var errs []error
	setInt := func(key string, dst *int) {
		v := env(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
			return
		}
		*dst = n
	}
	setInt("HORIZON_DAYS", &c.HorizonDays)
	setInt("GENERATE_CONCURRENCY", &c.Concurrency)

	if v := env("BATCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BATCH_TIMEOUT: %w", err))
		} else {
			c.BatchTimeout = d
		}
	}

	if v := env("TELEGRAM_ADMINS"); v != "" {
		admins, err := parseIDs(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_ADMINS: %w", err))
		} else {
			c.TelegramAdmins = admins
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q, expected sqlite or postgres", c.DatabaseDriver))
	}
	if c.HorizonDays < 1 {
		errs = append(errs, fmt.Errorf("horizon days must be at least 1, got %d", c.HorizonDays))
	}
	if c.GenerateCron == "" {
		if _, _, err := c.DailyTime(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := parseWeekday(c.WeekStart); err != nil {
		errs = append(errs, err)
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("generate concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("batch timeout must be positive, got %s", c.BatchTimeout))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the configured timezone, UTC if it does not load.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeekStartDay returns the configured first day of the week, Sunday if invalid.
func (c Config) WeekStartDay() time.Weekday {
	d, err := parseWeekday(c.WeekStart)
	if err != nil {
		return time.Sunday
	}
	return d
}

// Level returns the configured log level, info if invalid.
func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// DailyTime splits GenerateAt into hour and minute.
func (c Config) DailyTime() (int, int, error) {
	h, m, ok := strings.Cut(c.GenerateAt, ":")
	hour, herr := strconv.Atoi(h)
	minute, merr := strconv.Atoi(m)
	if !ok || herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("generate at %q: expected HH:MM", c.GenerateAt)
	}
	return hour, minute, nil
}

// IsAdmin reports whether a Telegram user may trigger generation.
// An empty admin list allows everyone.
func (c Config) IsAdmin(telegramID int64) bool {
	if len(c.TelegramAdmins) == 0 {
		return true
	}
	for _, id := range c.TelegramAdmins {
		if id == telegramID {
			return true
		}
	}
	return false
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if d, ok := weekdays[s]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("week start %q: expected a weekday name or 0-6", raw)
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a user id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
