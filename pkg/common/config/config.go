package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Training subprocess
	TrainingPythonBin     string
	TrainingModule        string
	TrainingProfilesPath  string
	TrainingMaxConcurrent int

	// Metric capture
	MetricUpdateInterval int
	MetricMaxPoints      int

	// Log streaming
	LogPollInterval   time.Duration
	HeartbeatInterval time.Duration

	// Run summary cache
	RunSummaryTTL time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "voiceforge"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "voiceforge123"),
		PostgresDB:       getEnv("POSTGRES_DB", "voiceforge"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "voiceforge-platform"),

		TrainingPythonBin:     getEnv("TRAINING_PYTHON_BIN", "python3"),
		TrainingModule:        getEnv("TRAINING_MODULE", "trainer.cli"),
		TrainingProfilesPath:  getEnv("TRAINING_PROFILES_PATH", ""),
		TrainingMaxConcurrent: getIntEnv("TRAINING_MAX_CONCURRENT", 2),

		MetricUpdateInterval: getIntEnv("METRIC_UPDATE_INTERVAL", 5),
		MetricMaxPoints:      getIntEnv("METRIC_MAX_POINTS", 2000),

		LogPollInterval:   getDuration("LOG_POLL_INTERVAL", 200*time.Millisecond),
		HeartbeatInterval: getDuration("LOG_HEARTBEAT_INTERVAL", 15*time.Second),

		RunSummaryTTL: getDuration("RUN_SUMMARY_TTL", time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
