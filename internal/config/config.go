package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
// It is built once and passed by pointer to the collaborators that need it;
// nothing mutates it after Load returns.
type Config struct {
	DataDir         string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Workers         int

	// NOAA FTP source.
	FTPHost    string
	FTPRootDir string
	FTPTimeout time.Duration

	// DownloadIndexDir holds the embedded download index. Empty keeps the
	// index in memory for the lifetime of the process.
	DownloadIndexDir string

	// Optional Kafka sink for flagged records.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Optional InfluxDB sink for flagged records.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// InfluxEnabled reports whether the InfluxDB sink is configured.
func (c *Config) InfluxEnabled() bool {
	return c.InfluxToken != ""
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	ftpTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FTP_TIMEOUT", "30s"))
	if err != nil || ftpTimeout <= 0 {
		return nil, errors.New("invalid FTP_TIMEOUT")
	}

	workers, err := parseWorkers()
	if err != nil {
		return nil, err
	}

	dataDir := sharedcfg.EnvOrDefault("DATA_DIR", "data")

	cfg := &Config{
		DataDir:         dataDir,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		Workers:         workers,

		FTPHost:    sharedcfg.EnvOrDefault("NOAA_FTP", "ftp.ncdc.noaa.gov"),
		FTPRootDir: sharedcfg.EnvOrDefault("NOAA_FTP_ROOT_DIR", "/pub/data/hourly_precip-3240/"),
		FTPTimeout: ftpTimeout,

		DownloadIndexDir: os.Getenv("DOWNLOAD_INDEX_DIR"),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "hpd-flagged-records"),

		InfluxURL:    sharedcfg.EnvOrDefault("INFLUXDB_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:    sharedcfg.EnvOrDefault("INFLUXDB_ORG", "precip"),
		InfluxBucket: sharedcfg.EnvOrDefault("INFLUXDB_BUCKET", "hpd"),
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.FTPHost == "" {
		return nil, errors.New("NOAA_FTP is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

func parseWorkers() (int, error) {
	s := os.Getenv("WORKERS")
	if s == "" {
		return 4, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 64 {
		return 0, errors.New("WORKERS must be an integer between 1 and 64")
	}
	return n, nil
}
