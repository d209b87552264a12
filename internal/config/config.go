package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Addr            string
	DatabaseURL     string
	LogLevel        string
	KafkaBrokers    []string
	KafkaTopic      string
	ShutdownTimeout time.Duration
}

const (
	defaultAddr            = ":8072"
	defaultLogLevel        = "info"
	defaultKafkaTopic      = "schedule-mutations"
	defaultShutdownTimeout = 10 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("SCHEDCORE_ADDR", defaultAddr),
		DatabaseURL:     firstNonEmpty(os.Getenv("SCHEDCORE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		LogLevel:        getEnv("SCHEDCORE_LOG_LEVEL", defaultLogLevel),
		KafkaBrokers:    splitList(os.Getenv("SCHEDCORE_KAFKA_BROKERS")),
		KafkaTopic:      getEnv("SCHEDCORE_KAFKA_TOPIC", defaultKafkaTopic),
		ShutdownTimeout: getDuration("SCHEDCORE_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or SCHEDCORE_DATABASE_URL required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
