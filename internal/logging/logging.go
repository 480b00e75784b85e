// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Setup sets the level ("debug", "info", ...) and format ("text" or "json")
// of the standard logger.
func Setup(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	switch format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	return nil
}
