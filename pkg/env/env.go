package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

var ErrEmptyName = errors.New("environment variable name should not be empty")

// MustGetEnvString panics if the env var is not set
func MustGetEnvString(envName string) string {
	v, err := GetEnvString(envName)
	if err != nil {
		panic(fmt.Sprintf("REQUIRED environment variable missing or empty: %s", envName))
	}
	return v
}

func GetEnvStringOrDefault(envName, defaultValue string) string {
	v, err := GetEnvString(envName)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetEnvFirstOrDefault returns the first non-empty value among envNames.
func GetEnvFirstOrDefault(defaultValue string, envNames ...string) string {
	for _, name := range envNames {
		if v, err := GetEnvString(name); err == nil {
			return v
		}
	}
	return defaultValue
}

func GetEnvBoolOrDefault(envName string, defaultValue bool) bool {
	v, err := GetEnvBool(envName)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetEnvIntOrDefault returns the default when the variable is unset, malformed, or below min.
func GetEnvIntOrDefault(envName string, defaultValue int, min ...int) int {
	v, err := GetEnvInt(envName)
	if err != nil {
		return defaultValue
	}
	if len(min) > 0 && v < min[0] {
		return defaultValue
	}
	return v
}

func GetEnvFloat64OrDefault(envName string, defaultValue float64) float64 {
	v, err := GetEnvFloat64(envName)
	if err != nil {
		return defaultValue
	}
	return v
}

func GetEnvDurationOrDefault(envName string, defaultValue time.Duration) time.Duration {
	v, err := GetEnvString(envName)
	if err != nil {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return defaultValue
	}
	return d
}

// GetEnvStringSlice splits a comma separated value, dropping empty items.
func GetEnvStringSlice(envName string) []string {
	v, err := GetEnvString(envName)
	if err != nil {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func SanitizeEnv(envName string) (string, error) {
	if len(envName) == 0 {
		return "", ErrEmptyName
	}

	retValue := strings.TrimSpace(os.Getenv(envName))
	if len(retValue) == 0 {
		return "", errors.New("environment variable '" + envName + "' has an empty value")
	}

	return retValue, nil
}

func GetEnvString(envName string) (string, error) {
	return SanitizeEnv(envName)
}

func GetEnvBool(envName string) (bool, error) {
	envValue, err := SanitizeEnv(envName)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(envValue)
}

func GetEnvInt(envName string) (int, error) {
	envValue, err := SanitizeEnv(envName)
	if err != nil {
		return 0, err
	}

	retValue, err := strconv.ParseInt(envValue, 0, 0)
	if err != nil {
		return 0, err
	}

	return int(retValue), nil
}

func GetEnvFloat64(envName string) (float64, error) {
	envValue, err := SanitizeEnv(envName)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(envValue, 64)
}
