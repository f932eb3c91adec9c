package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"ppg-validator/internal/analytics"
)

// Config конфигурация приложения
type Config struct {
	ServerPort string
	GRPCPort   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	VerdictTTL    time.Duration

	DBPath string

	// NATSURL пустая строка отключает публикацию в NATS
	NATSURL     string
	NATSSubject string

	DataDir      string
	DefaultTrack string

	Classifier analytics.Config
}

// Load загружает конфигурацию из environment и проверяет параметры классификатора
func Load() (*Config, error) {
	defaults := analytics.DefaultConfig()

	cfg := &Config{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "50051"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		VerdictTTL:    time.Duration(getEnvAsInt("VERDICT_TTL_HOURS", 24)) * time.Hour,
		DBPath:        getEnv("DB_PATH", "ppg_verdicts.db"),
		NATSURL:       getEnv("NATS_URL", ""),
		NATSSubject:   getEnv("NATS_SUBJECT", "ppg.verdicts"),
		DataDir:       getEnv("DATA_DIR", "data"),
		DefaultTrack:  getEnv("DEFAULT_TRACK", "PLETH"),
		Classifier: analytics.Config{
			Hz:                   getEnvAsInt("PPG_HZ", defaults.Hz),
			NSec:                 getEnvAsFloat("PPG_NSEC", defaults.NSec),
			BeatPropThreshold:    getEnvAsFloat("BEAT_PROP_THRESHOLD", defaults.BeatPropThreshold),
			AbnormalityThreshold: getEnvAsFloat("ABNORMALITY_THRESHOLD", defaults.AbnormalityThreshold),
			FileThreshold:        getEnvAsFloat("FILE_THRESHOLD", defaults.FileThreshold),
			MissingPeaksAbnormal: getEnvAsBool("MISSING_PEAKS_ABNORMAL", false),
			Workers:              getEnvAsInt("WORKERS", 4),
		},
	}

	if err := cfg.Classifier.ValidateRecording(); err != nil {
		return nil, fmt.Errorf("classifier config: %w", err)
	}
	return cfg, nil
}

// getEnv получает environment variable или возвращает default
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt получает environment variable как int
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat получает environment variable как float64
func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool получает environment variable как bool
func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
