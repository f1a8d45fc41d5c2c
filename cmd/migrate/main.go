package main

import (
	"context"
	"log"
	"time"

	"github.com/robertarktes/campus-marketplace/internal/adapters/crdb"
	"github.com/robertarktes/campus-marketplace/internal/config"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := crdb.Migrate(ctx, cfg.CRDBDSN); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	logger.Info("migrations applied")
}
