package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accounthub/internal/config"
	"accounthub/internal/pkg/docstore"
	"accounthub/internal/pkg/eventstream"
	"accounthub/internal/pkg/logger"
)

// main 是审计 worker 的入口函数。
//
// 它以消费者组的方式持续读取账户事件流，把每条事件落入结构化日志后确认。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		appLogger.Error("connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	consumerID := fmt.Sprintf("auditworker-%d", os.Getpid())
	consumer, err := eventstream.NewConsumer(store.Client(), appLogger,
		cfg.App.EventStream, cfg.App.EventGroup, consumerID)
	if err != nil {
		appLogger.Error("init consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("audit worker started",
		slog.String("stream", cfg.App.EventStream),
		slog.String("group", cfg.App.EventGroup))

	for {
		select {
		case <-ctx.Done():
			appLogger.Info("audit worker stopped")
			return
		default:
		}

		events, err := consumer.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			appLogger.Error("read events failed", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}

		for _, ev := range events {
			appLogger.Info("audit event",
				slog.String("type", ev.Event.Type),
				slog.String("email", ev.Event.Email),
				slog.String("detail", ev.Event.Detail),
				slog.Int64("at", ev.Event.At))
			if err := consumer.Ack(ctx, ev.ID); err != nil {
				appLogger.Warn("ack failed",
					slog.String("msg_id", ev.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}
