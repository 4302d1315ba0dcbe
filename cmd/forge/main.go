package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Mozart409/uptime-forge/internal/alert"
	"github.com/Mozart409/uptime-forge/internal/config"
	"github.com/Mozart409/uptime-forge/internal/httpapi"
	"github.com/Mozart409/uptime-forge/internal/logging"
	"github.com/Mozart409/uptime-forge/internal/probe"
	"github.com/Mozart409/uptime-forge/internal/scheduler"
	"github.com/Mozart409/uptime-forge/internal/sink"
	"github.com/Mozart409/uptime-forge/internal/status"
)

func main() {
	env := config.FromEnv()

	// Initial config load is the only fatal config failure; later reloads
	// just log and keep the previous endpoint set.
	cfg, warnings, err := config.Load(env.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(env.LogDir, env.LogConsole)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	for _, w := range warnings {
		logger.Warn("config_warning",
			zap.String("endpoint", w.Endpoint),
			zap.String("message", w.Message),
		)
	}
	logger.Info("config_loaded",
		zap.String("path", env.ConfigPath),
		zap.Int("endpoints", len(cfg.Endpoints)),
	)

	var snk sink.Sink
	if env.DatabaseURL != "" {
		pg, err := sink.NewPostgres(context.Background(), env.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database_connect_failed", zap.Error(err))
		}
		defer pg.Close()
		snk = pg
		logger.Info("database_connected")
	} else {
		logger.Info("persistence_disabled")
	}

	channels := make(map[string]alert.Notifier)
	if s := alert.NewSlack(env.SlackWebhook); s != nil {
		channels["slack"] = s
	}
	if w := alert.NewWebhook(env.WebhookURL); w != nil {
		channels["webhook"] = w
	}
	if env.RedisAddr != "" {
		r, err := alert.NewRedis(env.RedisAddr, env.RedisQueue)
		if err != nil {
			logger.Warn("redis_channel_disabled", zap.Error(err))
		} else {
			defer r.Close()
			channels["redis"] = r
		}
	}

	store := status.NewStore()
	engine := alert.NewEngine(logger, channels)
	retrier := probe.NewRetrier(probe.NewDispatcher(), logger)

	sup := scheduler.New(logger, retrier, store, engine, snk)
	sup.Start(cfg.Endpoints)

	reloadCtx, stopReload := context.WithCancel(context.Background())
	defer stopReload()
	if cfg.Server.ReloadConfigInterval > 0 {
		go reloadLoop(reloadCtx, logger, sup, env.ConfigPath, cfg.Server.ReloadConfigInterval)
	} else {
		logger.Info("auto_reload_disabled")
	}

	api := httpapi.NewServer(logger, sup, env.ConfigPath)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.Router()}

	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting_down", zap.Duration("grace", env.ShutdownGrace))
	stopReload()
	sup.Shutdown(env.ShutdownGrace)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server_shutdown_error", zap.Error(err))
	}
}

// reloadLoop reloads the config file on a timer and reconciles the live task
// set. A failed load leaves the previous tasks running.
func reloadLoop(ctx context.Context, logger *zap.Logger, sup *scheduler.Supervisor, path string, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cfg, warnings, err := config.Load(path)
			for _, w := range warnings {
				logger.Warn("config_warning",
					zap.String("endpoint", w.Endpoint),
					zap.String("message", w.Message),
				)
			}
			if err != nil {
				logger.Warn("reload_failed", zap.Error(err))
				continue
			}
			sup.Reconcile(cfg.Endpoints)
		}
	}
}
