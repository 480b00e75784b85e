package main

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"jokes/internal/auth"
	"jokes/internal/config"
	"jokes/internal/db"
	"jokes/internal/logging"
	"jokes/internal/metrics"
	"jokes/internal/service"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "jokes [command]",
	Short:         "Credit-gated joke sharing service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgHiRed, color.Bold).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app is what every command needs: settings, an open migrated database,
// and the service over it.
type app struct {
	cfg     *config.Config
	conn    *sqlx.DB
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	svc     *service.Service
}

func setup() (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.WithField("driver", cfg.DBDriver).Debug("database ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := service.New(conn, auth.NewHasher(cfg.HashIterations), m)
	svc.SessionTTL = cfg.SessionTTL
	return &app{cfg: cfg, conn: conn, reg: reg, metrics: m, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.conn.Close(); err != nil {
		log.WithError(err).Warn("closing database")
	}
}
