// Package config reads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"jokes/internal/auth"
	"jokes/internal/db"
)

type Config struct {
	Port     string `env:"PORT,default=8080"`
	DBDriver string `env:"DB_DRIVER,default=sqlite3"`
	// DatabaseURL is a file path for sqlite3 and a connection string for postgres.
	DatabaseURL string `env:"DATABASE_URL,default=jokes.db"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	HashIterations  int           `env:"HASH_ITERATIONS,default=600000"`
	SessionTTL      time.Duration `env:"SESSION_TTL,default=24h"`
	LoginRatePerMin int           `env:"LOGIN_RATE_PER_MIN,default=10"`
	CookieSecure    bool          `env:"COOKIE_SECURE,default=false"`
}

// Load reads envFile when it exists and decodes the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "loading %s", envFile)
		}
	}
	var c Config
	if err := envdecode.Decode(&c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, errors.Wrap(err, "decoding environment")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case db.DriverSQLite, db.DriverPostgres:
	default:
		return errors.Errorf("DB_DRIVER must be %q or %q, got %q", db.DriverSQLite, db.DriverPostgres, c.DBDriver)
	}
	if c.HashIterations < auth.MinIterations {
		return errors.Errorf("HASH_ITERATIONS must be at least %d", auth.MinIterations)
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.LoginRatePerMin <= 0 {
		return errors.New("LOGIN_RATE_PER_MIN must be positive")
	}
	return nil
}
