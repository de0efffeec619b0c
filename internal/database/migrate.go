// Package database はPostgreSQLとRedisへの接続、およびprofilesテーブルのマイグレーションを提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtyMigration は前回のマイグレーションが途中で失敗し、手動での復旧が必要な状態を表す。
var ErrDirtyMigration = errors.New("database is in a dirty migration state")

// MigrationResult は適用前後のスキーマバージョン。未適用のデータベースは0。
type MigrationResult struct {
	From uint
	To   uint
}

// Applied は新しいマイグレーションが適用されたかどうかを返す。
func (r MigrationResult) Applied() bool {
	return r.To != r.From
}

// NewMigrator は埋め込みマイグレーションを読むmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// dirty状態のデータベースには何もせずErrDirtyMigrationを返す。
// ctxが終了すると実行中のマイグレーションの完了後に停止する。
func RunMigrations(ctx context.Context, databaseURL string, logger *slog.Logger) (MigrationResult, error) {
	if err := ctx.Err(); err != nil {
		return MigrationResult{}, fmt.Errorf("migration cancelled: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{From: from}, err
	}

	stop := context.AfterFunc(ctx, func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: from}, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, err := schemaVersion(m)
	result := MigrationResult{From: from, To: to}
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("migration cancelled: %w", err)
	}

	if result.Applied() {
		logger.Info("database schema migrated",
			slog.Uint64("from_version", uint64(from)),
			slog.Uint64("to_version", uint64(to)),
		)
	} else {
		logger.Info("database schema is up to date", slog.Uint64("version", uint64(to)))
	}
	return result, nil
}

// schemaVersion は現在のバージョンを返す。dirtyの場合はErrDirtyMigrationを返す。
func schemaVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w: version %d", ErrDirtyMigration, version)
	}
	return version, nil
}
