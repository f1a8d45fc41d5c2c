package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/robertarktes/campus-marketplace/internal/adapters/crdb"
	redisadapter "github.com/robertarktes/campus-marketplace/internal/adapters/redis"
	"github.com/robertarktes/campus-marketplace/internal/booking"
	"github.com/robertarktes/campus-marketplace/internal/config"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

const batchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "expiry-worker")
	if cfg.ReservationTTL <= 0 {
		logger.Info("RESERVATION_TTL is not set, reservations never expire")
		return
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "marketplace-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	engine := booking.NewEngine(crdb.NewBookingStore(repo), redisadapter.NewCache(redisClient), logger, cfg.ReserveLockTTL)
	worker := NewExpiryWorker(engine, logger, cfg.ReservationTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithField("ttl", cfg.ReservationTTL.String()).Info("expiry worker started")
	worker.Run(ctx, cfg.ExpiryInterval)
	logger.Info("Shutdown expiry worker")
}

type Expirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error)
}

type ExpiryWorker struct {
	engine Expirer
	logger observability.Logger
	ttl    time.Duration
}

func NewExpiryWorker(engine Expirer, logger observability.Logger, ttl time.Duration) *ExpiryWorker {
	return &ExpiryWorker{engine: engine, logger: logger, ttl: ttl}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep expires stale reservations in batches until a batch comes back short.
func (w *ExpiryWorker) sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.engine.ExpireStale(ctx, w.ttl, batchSize)
		total += n
		observability.ExpiredReservations.Add(float64(n))
		if err != nil {
			w.logger.WithError(err).Error("failed to expire reservations")
			break
		}
		if n < batchSize {
			break
		}
	}
	if total > 0 {
		w.logger.WithField("count", total).Info("expired stale reservations")
	}
	return total
}
