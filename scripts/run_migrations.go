package main

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/safar/marketplace-core/internal/config"
	"github.com/safar/marketplace-core/migrations"
)

func main() {
	lg, _ := zap.NewDevelopment()
	defer lg.Sync()

	if len(os.Args) < 2 {
		lg.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		lg.Fatal("Direction must be 'up' or 'down'", zap.String("direction", direction))
	}

	cfg, err := config.Load()
	if err != nil {
		lg.Fatal("Load config", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		lg.Fatal("Connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		lg.Fatal("Ping database", zap.Error(err))
	}

	applied, err := migrations.Run(ctx, db, direction)
	if err != nil {
		lg.Fatal("Run migrations", zap.Error(err))
	}

	for _, name := range applied {
		lg.Info("Ran migration", zap.String("file", name))
	}
	lg.Info("Migrations complete", zap.Int("count", len(applied)), zap.String("direction", direction))
}
