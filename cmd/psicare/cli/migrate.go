package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/psicare/psicare/internal/app"
	"github.com/psicare/psicare/internal/platform/db"
	"github.com/psicare/psicare/migrations"
)

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}
