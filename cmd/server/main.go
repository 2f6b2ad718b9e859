package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/loader-licensing/internal/activation"
	"github.com/iliyamo/loader-licensing/internal/config"
	"github.com/iliyamo/loader-licensing/internal/credential"
	"github.com/iliyamo/loader-licensing/internal/database"
	"github.com/iliyamo/loader-licensing/internal/handler"
	"github.com/iliyamo/loader-licensing/internal/identity"
	"github.com/iliyamo/loader-licensing/internal/metrics"
	"github.com/iliyamo/loader-licensing/internal/middleware"
	"github.com/iliyamo/loader-licensing/internal/queue"
	"github.com/iliyamo/loader-licensing/internal/repository"
	"github.com/iliyamo/loader-licensing/internal/router"
	"github.com/iliyamo/loader-licensing/internal/sealed"
	"github.com/iliyamo/loader-licensing/internal/service"
	"github.com/iliyamo/loader-licensing/internal/vault"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// the logger is not configured yet
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	log, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.Fatal("database connect", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal("database migrate", zap.Error(err))
	}

	accounts := repository.NewAccountRepo(db)
	hardware := repository.NewHardwareRepo(db)
	products := repository.NewProductRepo(db)

	holder := identity.NewHolder(cfg.AppID, repository.NewLoaderRepo(db), log.Named("identity"))
	if err := holder.Bootstrap(ctx); err != nil {
		log.Fatal("loader identity", zap.Error(err))
	}

	store, err := vault.New(cfg.DataDir)
	if err != nil {
		log.Fatal("vault", zap.Error(err))
	}

	rdb := connectRedis(ctx, cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	instanceID := uuid.NewString()
	publisher := service.NewPublisher(cfg.AMQPURL, log.Named("amqp"))
	m := metrics.New()
	validate := validator.New(validator.WithRequiredStructEnabled())

	svc := activation.New(activation.Deps{
		Accounts:   accounts,
		Hardware:   hardware,
		Products:   products,
		Vault:      store,
		Passwords:  credential.NewHasher(cfg.Argon2),
		Identity:   holder,
		Codec:      sealed.NewCodec(validate),
		Events:     publisher,
		Metrics:    m,
		Log:        log.Named("activation"),
		InstanceID: instanceID,
	})

	if publisher.Enabled() {
		startConsumers(ctx, cfg, holder, instanceID, log)
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator(validate)
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestLogger(log.Named("http")))

	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb, log.Named("ratelimit"))
	router.RegisterRoutes(e, m.Handler())
	router.RegisterClient(e, handler.NewClientHandler(svc), cfg.AppID, svc, limit)
	router.RegisterAdmin(e, router.Admin{
		Auth:      handler.NewAuthHandler(cfg.JWTSecret, cfg.AdminTokenTTL),
		Users:     handler.NewUserHandler(accounts, hardware, products, svc),
		Products:  handler.NewProductHandler(products, svc),
		Loader:    handler.NewLoaderHandler(svc),
		APIToken:  cfg.AdminAPIToken,
		JWTSecret: cfg.JWTSecret,
		Cache:     middleware.NewAdminCache(cfg.Cache, rdb, log.Named("cache")),
	})

	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("instance", instanceID))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// connectRedis returns nil when redis is not configured or unreachable;
// rate limiting and the admin cache are then disabled.
func connectRedis(ctx context.Context, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		log.Info("redis not configured; rate limiting and cache disabled")
		return nil
	}
	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable; rate limiting and cache disabled", zap.Error(err))
		return nil
	}
	return rdb
}

func startConsumers(ctx context.Context, cfg config.Config, holder *identity.Holder, instanceID string, log *zap.Logger) {
	audit := &queue.HardwareConsumer{URL: cfg.AMQPURL, LogDir: cfg.LogDir, Log: log.Named("hardware-consumer")}
	watcher := &queue.LoaderWatcher{URL: cfg.AMQPURL, Origin: instanceID, Reloader: holder, Log: log.Named("loader-watcher")}

	go func() {
		if err := audit.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("hardware consumer stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("loader watcher stopped", zap.Error(err))
		}
	}()
}
