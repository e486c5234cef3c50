package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port string

	// Logging
	LogLevel  string
	LogPretty bool
	LogFile   string

	// Inbound rate limiting
	RateLimitType   string // "memory" or "redis"
	RateLimit       int    // requests allowed per window
	RateLimitWindow int    // window in seconds

	// Member store
	DatastoreType string // "memory", "mysql" or "redis"
	DatastorePath string // optional members CSV used to seed the memory store
	MySQLDSN      string

	// Redis (rate limiter, broker, geocode cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Change notifications
	BrokerType    string // "memory" or "redis"
	BrokerChannel string

	// Geocoding
	GeocodeURL       string
	GeocodeUserAgent string
	GeocodeDelay     time.Duration
	GeocodeCacheType string // "memory", "file" or "redis"
	GeocodeCachePath string

	// CORS
	CORSAllowedOrigins []string

	// Client side (cmd/membermap)
	APIURL string
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "3000"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		LogFile:   getEnv("LOG_FILE", ""),

		RateLimitType:   getEnv("RATE_LIMITER_TYPE", "memory"),
		RateLimit:       getEnvAsInt("RATE_LIMIT", 20),
		RateLimitWindow: getEnvAsInt("RATE_LIMIT_WINDOW", 1),

		DatastoreType: getEnv("DATASTORE_TYPE", "memory"),
		DatastorePath: getEnv("DATASTORE_PATH", ""),
		MySQLDSN:      getEnv("MYSQL_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		BrokerType:    getEnv("BROKER_TYPE", "memory"),
		BrokerChannel: getEnv("BROKER_CHANNEL", "members:changes"),

		GeocodeURL:       getEnv("GEOCODE_URL", "https://nominatim.openstreetmap.org/search"),
		GeocodeUserAgent: getEnv("GEOCODE_USER_AGENT", "MemberMap/1.0"),
		GeocodeDelay:     getEnvAsDuration("GEOCODE_DELAY_MS", 100*time.Millisecond),
		GeocodeCacheType: getEnv("GEOCODE_CACHE_TYPE", "memory"),
		GeocodeCachePath: getEnv("GEOCODE_CACHE_PATH", "./data/geocode-cache.json"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		APIURL: getEnv("API_URL", "http://localhost:3000/v1"),
	}
}

// RequestsPerSecond is the effective inbound rate
// Example: 10 requests per 5 seconds = 2.0 req/s
func (c *Config) RequestsPerSecond() float64 {
	if c.RateLimitWindow <= 0 {
		return float64(c.RateLimit)
	}
	return float64(c.RateLimit) / float64(c.RateLimitWindow)
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt reads an environment variable as an integer
// Returns default if not set or invalid
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBool reads an environment variable as a boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration reads an environment variable holding milliseconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	ms, err := strconv.Atoi(valueStr)
	if err != nil || ms < 0 {
		return defaultValue
	}

	return time.Duration(ms) * time.Millisecond
}

// getEnvAsList reads a comma separated environment variable
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
