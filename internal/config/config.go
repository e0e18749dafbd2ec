package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Load reads the .env file and binds environment variables so they override
// file values. Call once at startup before any component asks viper for
// settings.
func Load() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("cache.ttl_seconds", "CACHE_TTL_SECONDS")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("cache.ttl_seconds", 300)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
}

// CacheTTL returns how long cached read views live before expiring on
// their own. Invalidation usually gets there first.
func CacheTTL() time.Duration {
	return time.Duration(viper.GetInt("cache.ttl_seconds")) * time.Second
}

// JWTSecret returns the HS256 signing key for auth tokens.
func JWTSecret() []byte {
	return []byte(viper.GetString("jwt.secret_key"))
}

// JWTExpiry returns the token lifetime.
func JWTExpiry() time.Duration {
	return time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
}
