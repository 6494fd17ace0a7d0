package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaJobTopic      string
	KafkaResultTopic   string
	KafkaProgressTopic string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	OutputDir      string
	MaxConcurrency int
	MaxRetries     int
	FetchTimeout   time.Duration
	Overwrite      bool

	// ElevationURL and OrthoURL override the National Map endpoints,
	// mainly for tests and air-gapped mirrors.
	ElevationURL string
	OrthoURL     string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	maxConcurrency, err := parsePositiveInt("MAX_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseNonNegativeInt("MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaJobTopic:      envOrDefault("KAFKA_JOB_TOPIC", "tile-jobs"),
		KafkaResultTopic:   envOrDefault("KAFKA_RESULT_TOPIC", "tile-job-results"),
		KafkaProgressTopic: envOrDefault("KAFKA_PROGRESS_TOPIC", "tile-job-progress"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "terrain-tile-service"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,

		OutputDir:      envOrDefault("OUTPUT_DIR", "./tiles"),
		MaxConcurrency: maxConcurrency,
		MaxRetries:     maxRetries,
		FetchTimeout:   fetchTimeout,
		Overwrite:      os.Getenv("OVERWRITE") == "true",

		ElevationURL: os.Getenv("ELEVATION_URL"),
		OrthoURL:     os.Getenv("ORTHO_URL"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaJobTopic == "" {
		return nil, errors.New("KAFKA_JOB_TOPIC is required")
	}
	if cfg.KafkaResultTopic == "" {
		return nil, errors.New("KAFKA_RESULT_TOPIC is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("OUTPUT_DIR is required")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
