package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/robertarktes/campus-marketplace/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/campus-marketplace/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/campus-marketplace/internal/adapters/redis"
	"github.com/robertarktes/campus-marketplace/internal/booking"
	"github.com/robertarktes/campus-marketplace/internal/catalog"
	"github.com/robertarktes/campus-marketplace/internal/comments"
	"github.com/robertarktes/campus-marketplace/internal/config"
	httphandler "github.com/robertarktes/campus-marketplace/internal/http"
	"github.com/robertarktes/campus-marketplace/internal/identity"
	"github.com/robertarktes/campus-marketplace/internal/idempotency"
	"github.com/robertarktes/campus-marketplace/internal/media"
	"github.com/robertarktes/campus-marketplace/internal/observability"
	"github.com/robertarktes/campus-marketplace/internal/rateLimit"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "api")

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "marketplace-api")
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

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	commentRepo := mongoadapter.NewCommentRepository(mongoDB, logger)
	if err := commentRepo.EnsureIndexes(context.Background()); err != nil {
		logger.WithError(err).Warn("failed to ensure comment indexes")
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	uploads, err := media.NewDiskStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("failed to prepare upload dir: %v", err)
	}

	engine := booking.NewEngine(crdb.NewBookingStore(repo), redisCache, logger, cfg.ReserveLockTTL)
	users := identity.NewService(repo, identity.NewTokens(cfg.JWTSecret, cfg.TokenTTL), cfg.EmailDomains(), logger)

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Identity:      users,
		Catalog:       catalog.NewService(repo, logger),
		Bookings:      engine,
		Comments:      comments.NewService(commentRepo, repo),
		CommentPurger: commentRepo,
		Uploads:       uploads,
		Limiter:       rl,
		Idempotency:   idemp,
		Checks: map[string]httphandler.HealthChecker{
			"crdb":  repo,
			"redis": redisCache,
			"mongo": checkFunc(func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) }),
		},
		Logger:     logger,
		Production: cfg.IsProduction(),
	})

	r := httphandler.SetupRouter(handlers, httphandler.RouterOptions{
		AllowedOrigins:  cfg.CORSOrigins(),
		UploadDir:       uploads.Dir(),
		UserRate:        cfg.RateLimitUser,
		IPRate:          cfg.RateLimitIP,
		RateLimitPeriod: cfg.RateLimitPeriod,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
