// Package migrations holds the database schema of the gateway.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"       // support file scheme for golang_migrate
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ledgerindex/gateway/log"
)

//go:embed *.sql
var schema embed.FS

// Up applies all pending migrations to the database at dbURL. Migrations
// are read from sourceURL, or from the schema compiled into the binary
// when sourceURL is empty.
func Up(dbURL string, sourceURL string, logger *log.Logger) error {
	var (
		m   *migrate.Migrate
		err error
	)
	if sourceURL == "" {
		source, serr := iofs.New(schema, ".")
		if serr != nil {
			return fmt.Errorf("opening embedded migrations: %w", serr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", source, dbURL)
	} else {
		m, err = migrate.New(sourceURL, dbURL)
	}
	if err != nil {
		logger.Error("migrator failed to start", "error", err)
		return err
	}
	defer m.Close()

	switch err = m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations needed to be applied")
	case err != nil:
		logger.Error("migrations failed", "error", err)
		return err
	default:
		logger.Info("migrations completed")
	}
	return nil
}
