// cmd/seeder/main.go
package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/config"
	"github.com/unclebandit/leadnurture/internal/db"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg := config.Load()
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("❌ failed to connect", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn, cfg.MigrationsDir, logger); err != nil {
		logger.Fatal("❌ migrations failed", zap.Error(err))
	}

	dir := "seed"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	seedFiles, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		logger.Fatal("❌ bad seed directory", zap.Error(err))
	}
	sort.Strings(seedFiles)

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatal("failed to read seed file", zap.String("file", file), zap.Error(err))
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			logger.Fatal("failed to execute seed file", zap.String("file", file), zap.Error(err))
		}
		logger.Info("Seeded", zap.String("file", file))
	}

	logger.Info("✅ Database seeding completed successfully!", zap.Int("files", len(seedFiles)))
}
