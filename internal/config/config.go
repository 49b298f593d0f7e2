// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/arielsync/internal/ariel"
	"github.com/raphaelgruber/arielsync/internal/db"
	"github.com/raphaelgruber/arielsync/internal/service"
)

// Config holds all configuration values.
type Config struct {
	// QRadar console
	Console            string
	SecToken           string
	APIVersion         string
	InsecureSkipVerify bool
	RequestTimeout     time.Duration

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Inputs
	EPClientsFile string
	QueriesFile   string
	ShortQueries  []string

	// Search tuning
	ShortWindow   time.Duration
	LongWindow    time.Duration
	ShortCadence  time.Duration
	LongCadence   time.Duration
	Workers       int
	PollAttempts  int
	MaxRetriggers int
	MaxPollErrors int
	QueueCapacity int
	QueueTimeout  time.Duration
	BatchSize     int
	Delimiter     string
	Timezone      string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Metrics listener, empty disables it.
	MetricsAddr string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Console:            getEnv("QRADAR_CONSOLE", ""),
		SecToken:           getEnv("QRADAR_SEC_TOKEN", ""),
		APIVersion:         getEnv("QRADAR_API_VERSION", "19.0"),
		InsecureSkipVerify: getBool("QRADAR_INSECURE_SKIP_VERIFY", true),
		RequestTimeout:     getDuration("QRADAR_REQUEST_TIMEOUT", 120*time.Second),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "qradar"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "arielsync"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EPClientsFile: getEnv("ARIELSYNC_EP_CLIENTS_FILE", "input/ep_clients.json"),
		QueriesFile:   getEnv("ARIELSYNC_QUERIES_FILE", "input/queries.json"),
		ShortQueries:  splitList(getEnv("ARIELSYNC_SHORT_QUERIES", "Authentication Failure,Authentication Success,Allowed Traffic")),

		ShortWindow:   getDuration("ARIELSYNC_SHORT_WINDOW", 15*time.Minute),
		LongWindow:    getDuration("ARIELSYNC_LONG_WINDOW", 60*time.Minute),
		ShortCadence:  getDuration("ARIELSYNC_SHORT_POLL_INTERVAL", 90*time.Second),
		LongCadence:   getDuration("ARIELSYNC_LONG_POLL_INTERVAL", 180*time.Second),
		Workers:       getInt("ARIELSYNC_WORKERS", 8),
		PollAttempts:  getInt("ARIELSYNC_POLL_ATTEMPTS", 10),
		MaxRetriggers: getInt("ARIELSYNC_MAX_RETRIGGERS", 3),
		MaxPollErrors: getInt("ARIELSYNC_MAX_POLL_ERRORS", 5),
		QueueCapacity: getInt("ARIELSYNC_QUEUE_CAPACITY", 20000),
		QueueTimeout:  getDuration("ARIELSYNC_QUEUE_TIMEOUT", 120*time.Second),
		BatchSize:     getInt("ARIELSYNC_BATCH_SIZE", 1000),
		Delimiter:     unescape(getEnv("ARIELSYNC_RECORD_DELIMITER", `},\n`)),
		Timezone:      getEnv("ARIELSYNC_TIMEZONE", "Local"),

		LogFile:  getEnv("ARIELSYNC_LOG_FILE", "/tmp/arielsync.log"),
		LogLevel: parseLogLevel(getEnv("ARIELSYNC_LOG_LEVEL", "INFO")),

		MetricsAddr: getEnv("ARIELSYNC_METRICS_ADDR", ""),
	}
}

// Validate reports settings a search run cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.Console == "" {
		errs = append(errs, errors.New("QRADAR_CONSOLE is required"))
	}
	if c.SecToken == "" {
		errs = append(errs, errors.New("QRADAR_SEC_TOKEN is required"))
	}
	positive := []struct {
		name string
		v    int64
	}{
		{"ARIELSYNC_SHORT_WINDOW", int64(c.ShortWindow)},
		{"ARIELSYNC_LONG_WINDOW", int64(c.LongWindow)},
		{"ARIELSYNC_WORKERS", int64(c.Workers)},
		{"ARIELSYNC_POLL_ATTEMPTS", int64(c.PollAttempts)},
		{"ARIELSYNC_QUEUE_CAPACITY", int64(c.QueueCapacity)},
		{"ARIELSYNC_QUEUE_TIMEOUT", int64(c.QueueTimeout)},
		{"ARIELSYNC_BATCH_SIZE", int64(c.BatchSize)},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.MaxRetriggers < 0 {
		errs = append(errs, errors.New("ARIELSYNC_MAX_RETRIGGERS must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("ARIELSYNC_TIMEZONE: %w", err)
	}
	return loc, nil
}

// DB returns the SurrealDB connection settings.
func (c Config) DB() db.Config {
	return db.Config{
		URL:       c.SurrealDBURL,
		Namespace: c.SurrealDBNamespace,
		Database:  c.SurrealDBDatabase,
		Username:  c.SurrealDBUser,
		Password:  c.SurrealDBPass,
		AuthLevel: c.SurrealDBAuthLevel,
	}
}

// Controller returns the search tuning. ARIELSYNC_MAX_RETRIGGERS=0 means a
// single trigger per window.
func (c Config) Controller() service.ControllerOptions {
	retriggers := c.MaxRetriggers
	if retriggers == 0 {
		retriggers = service.NoRetriggers
	}
	return service.ControllerOptions{
		PollAttempts:  c.PollAttempts,
		ShortCadence:  c.ShortCadence,
		LongCadence:   c.LongCadence,
		MaxRetriggers: retriggers,
		MaxPollErrors: c.MaxPollErrors,
	}
}

// Ariel returns the console connection settings.
func (c Config) Ariel() ariel.Config {
	return ariel.Config{
		Console:            c.Console,
		Token:              c.SecToken,
		Version:            c.APIVersion,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Timeout:            c.RequestTimeout,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// unescape turns literal \n, \r and \t sequences into control characters so
// delimiters can be given on a single env line.
func unescape(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t").Replace(s)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
