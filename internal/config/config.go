package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gate-controller/internal/domain/gate"
)

// Config is the full typed configuration. Values load from the config
// file with GATE_* environment variables taking precedence, so secrets
// (tokens, DSNs, SMTP credentials) can stay out of the file.
type Config struct {
	Server struct {
		Addr        string   `mapstructure:"addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"server"`

	Camera struct {
		Model string `mapstructure:"model"`
	} `mapstructure:"camera"`

	Recognizer struct {
		URL     string   `mapstructure:"url"`
		Token   string   `mapstructure:"token"`
		Regions []string `mapstructure:"regions"`
	} `mapstructure:"recognizer"`

	Match struct {
		Threshold int `mapstructure:"threshold"`
	} `mapstructure:"match"`

	Suppression struct {
		WindowSeconds int `mapstructure:"window_seconds"`
	} `mapstructure:"suppression"`

	Timezone string `mapstructure:"timezone"`

	SQLite struct {
		Path     string `mapstructure:"path"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"sqlite"`

	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`

	S3 struct {
		Enabled bool   `mapstructure:"enabled"`
		Bucket  string `mapstructure:"bucket"`
		Region  string `mapstructure:"region"`
	} `mapstructure:"s3"`

	SMTP struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
		To       string `mapstructure:"to"`
	} `mapstructure:"smtp"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Gate struct {
		Pin         int `mapstructure:"pin"`
		HoldSeconds int `mapstructure:"hold_seconds"`
	} `mapstructure:"gate"`

	Registry struct {
		// Source is "csv" or "postgres".
		Source        string `mapstructure:"source"`
		CSVPath       string `mapstructure:"csv_path"`
		ReloadSeconds int    `mapstructure:"reload_seconds"`
	} `mapstructure:"registry"`

	Schedule struct {
		Windows []ScheduleWindowConfig `mapstructure:"windows"`
	} `mapstructure:"schedule"`
}

// ScheduleWindowConfig is one access window as written in the config
// file, e.g. {day: "mon", start: "08:00", end: "18:00"}.
type ScheduleWindowConfig struct {
	Day   string `mapstructure:"day"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// Load reads the config file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("recognizer.url", "https://api.platerecognizer.com/v1/plate-reader/")
	v.SetDefault("recognizer.regions", []string{"ie"})
	v.SetDefault("match.threshold", 70)
	v.SetDefault("suppression.window_seconds", 20)
	v.SetDefault("timezone", "Local")
	v.SetDefault("sqlite.path", "/opt/gate-controller/data/gate-controller-database.db")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("gate.hold_seconds", 2)
	v.SetDefault("registry.source", "csv")
	v.SetDefault("registry.csv_path", "/opt/gate-controller/authorised_licence_plates.csv")
	v.SetDefault("registry.reload_seconds", 300)

	// Secret-bearing keys need registered defaults or AutomaticEnv will
	// not surface them through Unmarshal.
	v.SetDefault("recognizer.token", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetEnvPrefix("GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SuppressionWindow returns the suppression window as a duration.
func (c *Config) SuppressionWindow() time.Duration {
	return time.Duration(c.Suppression.WindowSeconds) * time.Second
}

// HoldDuration returns how long the relay stays on per actuation.
func (c *Config) HoldDuration() time.Duration {
	return time.Duration(c.Gate.HoldSeconds) * time.Second
}

// ScheduleWindows parses the configured static windows.
func (c *Config) ScheduleWindows() ([]gate.ScheduleWindow, error) {
	windows := make([]gate.ScheduleWindow, 0, len(c.Schedule.Windows))
	for _, w := range c.Schedule.Windows {
		day, err := gate.ParseWeekday(w.Day)
		if err != nil {
			return nil, err
		}
		start, err := gate.ParseClockTime(w.Start)
		if err != nil {
			return nil, err
		}
		end, err := gate.ParseClockTime(w.End)
		if err != nil {
			return nil, err
		}
		windows = append(windows, gate.ScheduleWindow{Day: day, Start: start, End: end})
	}
	return windows, nil
}
