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
	"gopkg.in/yaml.v3"
	"prepost-assessment-service/internal/domain"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL             string `yaml:"ttl"`
		DurationSeconds int    `yaml:"duration_seconds"`
		DefaultMode     string `yaml:"default_mode"`
		TimezoneOffset  string `yaml:"timezone_offset"`
		QuestionsFile   string `yaml:"questions_file"`
	} `yaml:"quiz"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Email struct {
		Driver   string `yaml:"driver"`
		From     string `yaml:"from"`
		SMTPAddr string `yaml:"smtp_addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"email"`
	Migration struct {
		LegacyDate  string `yaml:"legacy_date"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"migration"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

const (
	defaultDurationSeconds = 1200
	defaultConcurrency     = 4
)

// Load reads YAML config from path. A .env file in the working directory is
// loaded first, and environment variables override the file.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"PORT":            &c.Server.Port,
		"REDIS_ADDR":      &c.Redis.Addr,
		"REDIS_PASSWORD":  &c.Redis.Password,
		"POSTGRES_URL":    &c.Postgres.URL,
		"JWT_SECRET":      &c.Auth.JWTSecret,
		"SMTP_PASSWORD":   &c.Email.Password,
		"LOG_LEVEL":       &c.Log.Level,
		"TIMEZONE_OFFSET": &c.Quiz.TimezoneOffset,
	}
	for env, field := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Quiz.DurationSeconds <= 0 {
		c.Quiz.DurationSeconds = defaultDurationSeconds
	}
	if c.Quiz.DefaultMode == "" {
		c.Quiz.DefaultMode = string(domain.ModePre)
	}
	if c.Migration.Concurrency <= 0 {
		c.Migration.Concurrency = defaultConcurrency
	}
	if c.Email.Driver == "" {
		c.Email.Driver = "log"
	}
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	if _, err := domain.ParseMode(c.Quiz.DefaultMode); err != nil {
		return fmt.Errorf("quiz.default_mode: %w", err)
	}
	if _, err := ParseOffset(c.Quiz.TimezoneOffset); err != nil {
		return fmt.Errorf("quiz.timezone_offset: %w", err)
	}
	if c.Migration.LegacyDate != "" {
		if _, ok := domain.ParseDate(c.Migration.LegacyDate); !ok {
			return fmt.Errorf("migration.legacy_date %q is not YYYYMMDD", c.Migration.LegacyDate)
		}
	}
	switch c.Email.Driver {
	case "log", "smtp", "none":
	default:
		return fmt.Errorf("email.driver %q is not one of log, smtp, none", c.Email.Driver)
	}
	return nil
}

// Settings are the defaults used until an administrator stores settings.
func (c Config) Settings() domain.Settings {
	return domain.Settings{
		Mode:            domain.Mode(c.Quiz.DefaultMode),
		DurationSeconds: c.Quiz.DurationSeconds,
	}
}

// Location is the organisation's fixed offset. Validate has checked it.
func (c Config) Location() *time.Location {
	loc, _ := ParseOffset(c.Quiz.TimezoneOffset)
	return loc
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

// ParseOffset turns "+03:30", "-05:00" or "+0200" into a fixed zone.
// Empty and "Z" mean UTC.
func ParseOffset(raw string) (*time.Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "Z" || raw == "UTC" {
		return time.UTC, nil
	}
	if len(raw) < 3 || (raw[0] != '+' && raw[0] != '-') {
		return nil, fmt.Errorf("offset %q must start with + or -", raw)
	}
	sign := 1
	if raw[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(raw[1:], ":", "")
	if len(digits) != 2 && len(digits) != 4 {
		return nil, fmt.Errorf("offset %q must be ±HH or ±HH:MM", raw)
	}
	hours, err := strconv.Atoi(digits[:2])
	if err != nil {
		return nil, fmt.Errorf("offset %q: %w", raw, err)
	}
	minutes := 0
	if len(digits) == 4 {
		if minutes, err = strconv.Atoi(digits[2:]); err != nil {
			return nil, fmt.Errorf("offset %q: %w", raw, err)
		}
	}
	if hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("offset %q out of range", raw)
	}
	return time.FixedZone("UTC"+raw, sign*(hours*3600+minutes*60)), nil
}
