package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	BackendInflux = "influx"
	BackendMySQL  = "mysql"
)

// Config holds environment-driven configuration.
type Config struct {
	Schedule struct {
		Timezone string        // TZ, default America/Denver
		Location *time.Location
		At       time.Duration // UPDATE_DATA_TIME as an offset from local midnight
	}
	InstanceDir string // holds fitbit.json and google.json
	Store       struct {
		Backend string // influx (default) or mysql
	}
	Influx struct {
		URL    string
		Token  string
		Org    string
		Bucket string
	}
	MySQL struct {
		DSN string // e.g., user:pass@tcp(host:3306)/dbname
	}
	Fitbit struct {
		BaseURL         string
		RequestsPerHour int
		Timeout         time.Duration
	}
	Backfill struct {
		ChunkDays int
		Floor     time.Time
	}
	Drive struct {
		Folder string
	}
	HTTP struct {
		Addr string // empty disables the trigger server
	}
}

func (c Config) FitbitCredentialsPath() string { return filepath.Join(c.InstanceDir, "fitbit.json") }
func (c Config) DriveCredentialsPath() string  { return filepath.Join(c.InstanceDir, "google.json") }

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	var err error

	cfg.Schedule.Timezone = env("TZ", "America/Denver")
	if cfg.Schedule.Location, err = time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return cfg, fmt.Errorf("TZ: %w", err)
	}
	if cfg.Schedule.At, err = parseClock(env("UPDATE_DATA_TIME", "08:00")); err != nil {
		return cfg, fmt.Errorf("UPDATE_DATA_TIME: %w", err)
	}

	cfg.InstanceDir = env("INSTANCE_DIR", "./instance")

	cfg.Store.Backend = strings.ToLower(env("STORE_BACKEND", BackendInflux))
	cfg.Influx.URL = env("INFLUXDB_URL", "http://localhost:8086")
	cfg.Influx.Token = os.Getenv("INFLUXDB_TOKEN")
	cfg.Influx.Org = env("INFLUXDB_ORG", "sleepy")
	cfg.Influx.Bucket = env("INFLUXDB_BUCKET", "sleepy")
	cfg.MySQL.DSN = os.Getenv("MYSQL_DSN")
	switch cfg.Store.Backend {
	case BackendInflux:
		if cfg.Influx.Token == "" {
			return cfg, fmt.Errorf("INFLUXDB_TOKEN is required for the influx backend")
		}
	case BackendMySQL:
		if cfg.MySQL.DSN == "" {
			return cfg, fmt.Errorf("MYSQL_DSN is required for the mysql backend")
		}
	default:
		return cfg, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendInflux, BackendMySQL, cfg.Store.Backend)
	}

	cfg.Fitbit.BaseURL = env("FITBIT_API_URL", "https://api.fitbit.com")
	if cfg.Fitbit.RequestsPerHour, err = envInt("FITBIT_REQUESTS_PER_HOUR", 150); err != nil {
		return cfg, err
	}
	if cfg.Fitbit.Timeout, err = time.ParseDuration(env("FITBIT_TIMEOUT", "30s")); err != nil || cfg.Fitbit.Timeout <= 0 {
		return cfg, fmt.Errorf("FITBIT_TIMEOUT must be a positive duration")
	}

	if cfg.Backfill.ChunkDays, err = envInt("BACKFILL_CHUNK_DAYS", 14); err != nil {
		return cfg, err
	}
	if cfg.Backfill.ChunkDays < 1 || cfg.Backfill.ChunkDays > 30 {
		return cfg, fmt.Errorf("BACKFILL_CHUNK_DAYS must be between 1 and 30")
	}
	if cfg.Backfill.Floor, err = time.ParseInLocation("2006-01-02", env("BACKFILL_FLOOR", "2020-01-01"), cfg.Schedule.Location); err != nil {
		return cfg, fmt.Errorf("BACKFILL_FLOOR must be YYYY-MM-DD")
	}

	cfg.Drive.Folder = env("DRIVE_FOLDER", "SpO2")
	cfg.HTTP.Addr = os.Getenv("HTTP_ADDR")

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// parseClock parses HH:MM into an offset from midnight.
func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
