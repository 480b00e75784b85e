package db

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// sqlite keeps a single connection and takes the write lock when a
// transaction begins, so writers touching the same row serialize.
const sqliteParams = "_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"

//go:embed migrations
var migrationsFS embed.FS

// Open connects to the store selected by driver and runs pending migrations.
func Open(driver, dsn string) (*sqlx.DB, error) {
	var (
		conn *sqlx.DB
		err  error
	)
	switch driver {
	case DriverSQLite:
		conn, err = openSQLite(dsn)
	case DriverPostgres:
		conn, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func openSQLite(path string) (*sqlx.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqliteParams
	} else {
		dsn += "?" + sqliteParams
	}
	conn, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite")
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "pinging sqlite")
	}
	log.WithField("path", path).Info("connected to sqlite")
	return conn, nil
}

func openPostgres(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL must be set for the postgres driver")
	}
	conn, err := sqlx.Connect(DriverPostgres, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	log.Info("connected to postgres")
	return conn, nil
}

// Migrate applies the embedded migrations for the connection's engine.
func Migrate(conn *sqlx.DB) error {
	driverName := conn.DriverName()
	src, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		return errors.Wrapf(err, "loading %s migrations", driverName)
	}

	var driver database.Driver
	switch driverName {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(conn.DB, &migratesqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(conn.DB, &postgres.Config{})
		if err == nil {
			// only releases the dedicated migration connection; the pool stays open
			defer driver.Close()
		}
	default:
		return fmt.Errorf("no migrations for driver %q", driverName)
	}
	if err != nil {
		return errors.Wrapf(err, "creating %s migration driver", driverName)
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		return errors.Wrap(err, "creating migration instance")
	}

	err = m.Up()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("migration state is up to date")
			return nil
		}
		return errors.Wrap(err, "running migrations")
	}
	log.Info("ran migrations successfully")
	return nil
}
