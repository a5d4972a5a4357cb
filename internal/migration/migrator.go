package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/config"
	"github.com/Additional-Code/umkm/internal/database"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var migrations embed.FS

// goose keeps dialect and filesystem in package globals.
var gooseMu sync.Mutex

// Module provides the migrator to Fx.
var Module = fx.Provide(New)

// Migrator wraps goose operations.
type Migrator struct {
	db      *bun.DB
	dialect string
	logger  *zap.Logger
}

// New constructs a goose-backed migrator.
func New(cfg config.Config, conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	dialect, err := gooseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	return &Migrator{
		db:      conns.Writer,
		dialect: dialect,
		logger:  logger,
	}, nil
}

// Apply runs every embedded migration against db. Used by the CLI and test fixtures.
func Apply(ctx context.Context, db *sql.DB, driver string, logger *zap.Logger) error {
	dialect, err := gooseDialect(driver)
	if err != nil {
		return err
	}
	return withGoose(dialect, logger, func() error {
		err := goose.UpContext(ctx, db, migrationsDir)
		if isNoMigrationErr(err) {
			return nil
		}
		return err
	})
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	err := withGoose(m.dialect, m.logger, func() error {
		return goose.UpContext(ctx, m.db.DB, migrationsDir)
	})
	if err != nil {
		if isNoMigrationErr(err) {
			m.logger.Info("no migrations to apply")
			return nil
		}
		return err
	}

	m.logger.Info("migrations applied")
	return nil
}

// Down rolls back migrations. Steps <=0 defaults to 1; all=true rolls everything back.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if steps <= 0 {
		steps = 1
	}

	err := withGoose(m.dialect, m.logger, func() error {
		if all {
			return goose.DownToContext(ctx, m.db.DB, migrationsDir, 0)
		}
		for i := 0; i < steps; i++ {
			if err := goose.DownContext(ctx, m.db.DB, migrationsDir); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isNoMigrationErr(err) {
			m.logger.Info("no migrations to rollback")
			return nil
		}
		return err
	}

	if all {
		m.logger.Info("migrations rolled back", zap.String("mode", "all"))
	} else {
		m.logger.Info("migrations rolled back", zap.Int("steps", steps))
	}
	return nil
}

func withGoose(dialect string, logger *zap.Logger, fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if logger != nil {
		goose.SetLogger(gooseLogger{logger: logger.Sugar()})
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return fn()
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case "postgres", "pg", "pq":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}

func isNoMigrationErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles) {
		return true
	}

	return strings.Contains(err.Error(), "no migrations")
}

type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Debugf(strings.TrimSpace(format), v...)
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Errorf(strings.TrimSpace(format), v...)
}
