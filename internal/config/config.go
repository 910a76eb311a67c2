// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	Database  Database
	RulesFile string
	// AutoRegister creates unknown cities and stations from incoming pages.
	AutoRegister bool

	Mapbox Mapbox
}

// Database selects the store driver and connection string.
type Database struct {
	Driver string
	URL    string
}

// Supported DATABASE_DRIVER values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DatabaseFromEnv reads DATABASE_DRIVER and DATABASE_URL. The URL may be
// empty; callers that need a database check it with Validate.
func DatabaseFromEnv() Database {
	return Database{
		Driver: sharedcfg.EnvOrDefault("DATABASE_DRIVER", DriverPostgres),
		URL:    os.Getenv("DATABASE_URL"),
	}
}

// Validate checks that the driver is supported and a URL is set.
func (d Database) Validate() error {
	if d.Driver != DriverPostgres && d.Driver != DriverSQLite {
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", d.Driver)
	}
	if d.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// Mapbox configures forward geocoding of new cities and stations.
type Mapbox struct {
	Token     string
	Enabled   bool
	Timeout   time.Duration
	CacheSize int
}

// MapboxFromEnv reads MAPBOX_TOKEN, MAPBOX_ENABLED, MAPBOX_TIMEOUT and
// MAPBOX_CACHE_SIZE. A token enables geocoding unless MAPBOX_ENABLED says
// otherwise.
func MapboxFromEnv() (Mapbox, error) {
	timeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s"))
	if err != nil || timeout <= 0 {
		return Mapbox{}, errors.New("invalid MAPBOX_TIMEOUT")
	}

	m := Mapbox{
		Token:     os.Getenv("MAPBOX_TOKEN"),
		Timeout:   timeout,
		CacheSize: 1000,
	}
	m.Enabled = m.Token != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		m.Enabled = v == "true"
	}
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			m.CacheSize = n
		}
	}

	if m.Enabled && m.Token == "" {
		return Mapbox{}, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return m, nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}
	mapbox, err := MapboxFromEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-aqi-pages"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "aqi-city-records"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "aqhi-etl"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		Database:           DatabaseFromEnv(),
		RulesFile:          os.Getenv("RULES_FILE"),
		AutoRegister:       sharedcfg.EnvOrDefault("AUTO_REGISTER", "true") == "true",
		Mapbox:             mapbox,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
