package env

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"debridhub/pkg/logger"
)

// LoadEnv loads environment variables from the given .env file, if present.
func LoadEnv(envPath string) error {
	if _, statErr := os.Stat(envPath); statErr != nil {
		return statErr
	}

	if err := godotenv.Load(envPath); err != nil {
		return err
	}

	logger.Debug("Environment variables loaded from %s", envPath)
	return nil
}

// GetString returns the environment variable value or a default if not set
func GetString(key string, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

// GetInt returns the environment variable value as int or a default if not set
func GetInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Warn("Invalid integer for %s: %s, using default %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// IsBool returns the environment variable parsed as a boolean or a default if not set
func IsBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetDuration returns the environment variable parsed as a duration or a default if not set
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Warn("Invalid duration for %s: %s, using default %v", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
