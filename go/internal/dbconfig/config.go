// Package dbconfig reads Postgres settings for the match archive.
package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

type Config struct {
	// URL, when set, is used as is and the discrete fields are ignored.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// NewConfigFromEnv reads DATABASE_URL or the DB_* variables.
func NewConfigFromEnv() Config {
	return Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "wissel"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 4)),
	}
}

// DSN returns the Postgres connection URL. Credentials are escaped.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Target describes the database without credentials, for logs.
func (c Config) Target() string {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return "invalid DATABASE_URL"
		}
		return u.Host + u.Path
	}
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.Database)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
