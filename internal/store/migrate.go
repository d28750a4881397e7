package store

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateLogger forwards golang-migrate output to zap.
type migrateLogger struct {
	log *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func newMigrate(databaseURL string, log *zap.Logger) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{log: log}
	return m, nil
}

// migrateURL switches a postgres:// URL to the pgx5 driver scheme and
// strips pool options the migrate driver does not understand.
func migrateURL(databaseURL string) string {
	u := databaseURL
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(u, scheme) {
			u = "pgx5://" + strings.TrimPrefix(u, scheme)
			break
		}
	}
	if i := strings.Index(u, "?"); i >= 0 {
		var keep []string
		for _, kv := range strings.Split(u[i+1:], "&") {
			if kv != "" && !strings.HasPrefix(kv, "pool_") {
				keep = append(keep, kv)
			}
		}
		u = u[:i]
		if len(keep) > 0 {
			u += "?" + strings.Join(keep, "&")
		}
	}
	return u
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an error.
func MigrateUp(databaseURL string, log *zap.Logger) error {
	m, err := newMigrate(databaseURL, log)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back every migration.
func MigrateDown(databaseURL string, log *zap.Logger) error {
	m, err := newMigrate(databaseURL, log)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// MigrateVersion reports the applied schema version. version is 0 when
// nothing has been applied yet.
func MigrateVersion(databaseURL string, log *zap.Logger) (version uint, dirty bool, err error) {
	m, err := newMigrate(databaseURL, log)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// MigrateForce marks version as applied without running it, for recovering
// from a dirty schema.
func MigrateForce(databaseURL string, version int, log *zap.Logger) error {
	m, err := newMigrate(databaseURL, log)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}
