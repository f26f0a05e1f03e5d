// Package migrate applies the versioned SQL schema under migrations/ to a
// Postgres database with golang-migrate. SQLite deployments (dev and tests)
// use repo.AutoMigrate instead.
package migrate

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Direction selects what Run does.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func newMigrator(db *gorm.DB, migrationPath string) (*migrate.Migrate, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from gorm.DB: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating postgres driver: %w", err)
	}

	abs, err := filepath.Abs(migrationPath)
	if err != nil {
		return nil, fmt.Errorf("resolving migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(abs), "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending up migration.
func RunMigrations(db *gorm.DB, migrationPath string) error {
	return Run(db, migrationPath, Up)
}

// Run moves the schema all the way up or down. Having nothing to do is not
// an error.
func Run(db *gorm.DB, migrationPath string, dir Direction) error {
	m, err := newMigrator(db, migrationPath)
	if err != nil {
		return err
	}

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations (%s): %w", dir, err)
	}

	v, dirty, _ := m.Version()
	log.Info().Str("direction", string(dir)).Uint("version", v).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

// Version reports the applied schema version. A database with no migrations
// applied reports version 0.
func Version(db *gorm.DB, migrationPath string) (version uint, dirty bool, err error) {
	m, err := newMigrator(db, migrationPath)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
