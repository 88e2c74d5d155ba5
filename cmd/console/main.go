package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Arhum2/MarketPlace-Automater/internal/assembler"
	"github.com/Arhum2/MarketPlace-Automater/internal/config"
	"github.com/Arhum2/MarketPlace-Automater/internal/console"
	"github.com/Arhum2/MarketPlace-Automater/internal/gateway"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/clock"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/dedup"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/logger"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/notify"
	"github.com/Arhum2/MarketPlace-Automater/internal/poller"
	"github.com/Arhum2/MarketPlace-Automater/internal/store"
	"github.com/Arhum2/MarketPlace-Automater/internal/workflow"

	"github.com/redis/go-redis/v9"
)

// main 是控制台服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志
// 3. 组装工作流引擎并启动 HTTP 服务
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(cfg.App.ScraperBaseURL, cfg.App.RequestTimeout, cfg.App.TitleWarnLimit, appLogger)
	jp := poller.New(gw, clock.New(), appLogger)
	asm := assembler.New(gw, appLogger)
	st := store.New(appLogger)

	var guard workflow.SubmissionGuard
	var rdb *redis.Client
	if cfg.App.EnableDedup {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Error("redis unreachable, dedup disabled", slog.String("error", err.Error()))
		} else {
			guard = dedup.NewSubmissionGuard(rdb, cfg.App.DedupWindow)
		}
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Email.SMTPHost != "" && cfg.Email.FromEmail != "" {
		notifier = notify.NewEmailNotifier(&cfg.Email, appLogger)
	}

	engine := workflow.New(gw, jp, asm, st, guard, notifier, workflow.Options{
		PollInterval:    cfg.App.PollInterval,
		MaxPollAttempts: cfg.App.MaxPollAttempts,
		PoolSize:        cfg.App.WorkerPoolSize,
		QueueCapacity:   cfg.App.QueueCapacity,
	}, appLogger)
	engine.Start(ctx)

	srv := console.NewServer(cfg, engine, nil, appLogger)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		appLogger.Info("console server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down console server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := engine.Shutdown(10 * time.Second); err != nil {
		appLogger.Error("workflow shutdown failed", slog.String("error", err.Error()))
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			appLogger.Error("close redis failed", slog.String("error", err.Error()))
		}
	}
}
