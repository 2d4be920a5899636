package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

// Manager handles database migrations
type Manager struct {
	migrator *migrate.Migrate
	logger   *zap.Logger
}

// NewManagerWithDB creates a new migration manager using an existing database connection
func NewManagerWithDB(db *sql.DB, logger *zap.Logger) (*Manager, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(MigrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Manager{migrator: migrator, logger: logger}, nil
}

// Up runs all pending migrations, first clearing a dirty state left by an
// interrupted run.
func (m *Manager) Up() error {
	if err := m.FixDirtyState(); err != nil {
		return err
	}

	err := m.migrator.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("no new migrations to run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	m.logger.Info("migrations completed", zap.Uint("version", version))
	return nil
}

// Down rolls back the given number of migrations (all when steps <= 0)
func (m *Manager) Down(steps int) error {
	var err error
	if steps > 0 {
		err = m.migrator.Steps(-steps)
	} else {
		err = m.migrator.Down()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}

	m.logger.Info("migration rollback completed", zap.Int("steps", steps))
	return nil
}

// Force sets the migration version without running migrations
func (m *Manager) Force(version int) error {
	if err := m.migrator.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version: %w", err)
	}

	m.logger.Info("migration version forced", zap.Int("version", version))
	return nil
}

// Version returns the current migration version
func (m *Manager) Version() (uint, bool, error) {
	version, dirty, err := m.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

// FixDirtyState forces a dirty version back to the last clean one.
func (m *Manager) FixDirtyState() error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	m.logger.Warn("database is in dirty state", zap.Uint("version", version))
	if version == 0 {
		return errors.New("database is dirty at version 0 and cannot be fixed automatically")
	}

	// The failed migration ran inside a transaction, so the previous
	// version is the last one actually applied. -1 means no version.
	target := int(version) - 1
	if target == 0 {
		target = -1
	}
	if err := m.migrator.Force(target); err != nil {
		return fmt.Errorf("failed to fix dirty database state: %w", err)
	}
	m.logger.Info("dirty state cleared", zap.Int("version", target))
	return nil
}
