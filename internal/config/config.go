package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	RedisURL       string
	NatsURL        string
	KafkaBrokers   string
	GatewayURL     string
	JaegerEndpoint string
	Port           string

	// Reconciliation policy. Poll-primary: the wall-clock timeout covers the
	// full attempt budget (interval * attempts).
	PollInterval    time.Duration
	MaxPollAttempts int
	ConfirmTimeout  time.Duration
}

func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8084"
	}

	gatewayURL := os.Getenv("GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "http://localhost:8085"
	}

	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		NatsURL:        os.Getenv("NATS_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		GatewayURL:     gatewayURL,
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		Port:           port,

		PollInterval:    envDuration("POLL_INTERVAL", 3*time.Second),
		MaxPollAttempts: envInt("MAX_POLL_ATTEMPTS", 20),
		ConfirmTimeout:  envDuration("CONFIRM_TIMEOUT", 60*time.Second),
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
