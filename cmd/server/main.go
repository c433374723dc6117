package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/postcard-capsule/config"
	_ "github.com/d60-Lab/postcard-capsule/docs"
	"github.com/d60-Lab/postcard-capsule/internal/api"
	"github.com/d60-Lab/postcard-capsule/internal/api/handler"
	"github.com/d60-Lab/postcard-capsule/internal/cache"
	"github.com/d60-Lab/postcard-capsule/internal/notify"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
	"github.com/d60-Lab/postcard-capsule/internal/service"
	"github.com/d60-Lab/postcard-capsule/pkg/database"
	"github.com/d60-Lab/postcard-capsule/pkg/logger"
	"github.com/d60-Lab/postcard-capsule/pkg/monitor"
	"github.com/d60-Lab/postcard-capsule/pkg/tracing"
)

// @title Postcard Capsule API
// @version 1.0
// @description 时间胶囊明信片：时间锁与地理锁解锁
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	flush, err := monitor.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.SampleRate)
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	loc, err := cfg.Location.TimeLocation()
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
	}

	// 仓储与协作方
	postcardRepo := repository.NewPostcardRepository(db)
	users := cache.NewUserDirectory(repository.NewUserRepository(db), rdb, cfg.Cache.UserTTL, cfg.Cache.LocalUserTTL)

	sinks := []notify.Sink{notify.NewStoreSink(repository.NewNotificationRepository(db))}
	if rdb != nil {
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.Notifier.InboxLength))
	}
	dispatcher := notify.NewDispatcher(cfg.Notifier.QueueSize, sinks...)
	stopDispatcher := dispatcher.Start(cfg.Notifier.Workers)

	opts := []service.Option{service.WithLocation(loc)}
	rel := service.NewRelationshipService(repository.NewFollowRepository(db), users)
	postcards := service.NewPostcardService(postcardRepo, rel, users, dispatcher, opts...)
	geo := service.NewGeoLockChecker(postcardRepo, users, dispatcher, opts...)

	stopSweeper := func(context.Context) error { return nil }
	if cfg.Sweeper.Enabled {
		sweeper := service.NewTimeLockSweeper(postcardRepo, dispatcher, service.SweeperConfig{
			Interval:  cfg.Sweeper.Interval,
			BatchSize: cfg.Sweeper.BatchSize,
			Timeout:   cfg.Sweeper.Timeout,
		}, opts...)
		stopSweeper = sweeper.Start()
	}

	router, err := api.NewRouter(cfg, handler.NewHandler(postcards, geo, rel))
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// 先停入口，再停后台任务，最后排空通知队列
		errs := []error{
			srv.Shutdown(shutdownCtx),
			stopSweeper(shutdownCtx),
			stopDispatcher(shutdownCtx),
			shutdownTracing(shutdownCtx),
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
