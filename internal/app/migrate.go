package app

import (
	"context"
	"errors"
	"fmt"

	"price-divergence/internal/config"
	"price-divergence/internal/storage"
)

// MigrationStatus describes the applied schema version.
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

func (a *App) migrateUp(store *storage.Store) error {
	migrator, err := storage.NewMigrator(store.Pool())
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return err
	}
	a.Logger.Info().Msg("database migrations applied")
	return nil
}

func (a *App) withMigrator(ctx context.Context, fn func(*storage.Migrator) error) error {
	if a.Config.Storage.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations apply to the postgres driver only (storage.driver=%s)", a.Config.Storage.Driver)
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := storage.NewMigrator(pool)
	if err != nil {
		return err
	}
	return errors.Join(fn(migrator), migrator.Close())
}

// MigrateUp applies pending migrations.
func (a *App) MigrateUp(ctx context.Context) error {
	return a.withMigrator(ctx, func(m *storage.Migrator) error {
		if err := m.Up(); err != nil {
			return err
		}
		a.Logger.Info().Msg("database migrations applied")
		return nil
	})
}

// MigrateDown rolls back all migrations.
func (a *App) MigrateDown(ctx context.Context) error {
	return a.withMigrator(ctx, func(m *storage.Migrator) error {
		if err := m.Down(); err != nil {
			return err
		}
		a.Logger.Info().Msg("database migrations rolled back")
		return nil
	})
}

// MigrationVersion reports the current schema version.
func (a *App) MigrationVersion(ctx context.Context) (MigrationStatus, error) {
	var status MigrationStatus
	err := a.withMigrator(ctx, func(m *storage.Migrator) error {
		version, dirty, err := m.Version()
		status = MigrationStatus{Version: version, Dirty: dirty}
		return err
	})
	return status, err
}
