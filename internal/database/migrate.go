// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// ドライバごとに migrations/<driver> 配下のSQLを使用する。
func NewMigrator(driver Driver, databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations/"+string(driver))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	switch driver {
	case DriverPostgres:
		m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil

	case DriverSQLite:
		// 専用コネクションを開く。m.Close()でこのDBもクローズされる。
		db, err := Open(DriverSQLite, databaseURL)
		if err != nil {
			return nil, err
		}
		instance, err := sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, "sqlite", instance)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(driver Driver, databaseURL string) error {
	m, err := NewMigrator(driver, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
