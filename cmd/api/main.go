package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tasknet/taskgraph/internal/client/agent"
	"github.com/tasknet/taskgraph/internal/config"
	"github.com/tasknet/taskgraph/internal/handler"
	chatservice "github.com/tasknet/taskgraph/internal/service/chat"
	graphservice "github.com/tasknet/taskgraph/internal/service/graph"
	"github.com/tasknet/taskgraph/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env before reading configuration.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Log)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment", zap.Error(envErr))
	}

	chatSvc := chatservice.NewService()
	reconciler := graphservice.NewReconciler(logger.Named("reconciler"))
	feed := graphservice.NewFeed()

	var runner *session.Runner
	if cfg.Agent.Enabled() {
		client := agent.New(agent.Config{
			BaseURL: cfg.Agent.BaseURL,
			Timeout: cfg.Agent.Timeout,
		}, logger.Named("agent"))
		runner = session.NewRunner(chatSvc, reconciler, client, logger.Named("session"))
		logger.Info("agent streaming enabled", zap.String("baseURL", cfg.Agent.BaseURL))
	} else {
		logger.Warn("AGENT_BASE_URL not set, streaming endpoint disabled")
	}

	router := handler.NewRouter(handler.Deps{
		ChatSvc:        chatSvc,
		Reconciler:     reconciler,
		Feed:           feed,
		Runner:         runner,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	if cfg.Level == "debug" {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("taskgraph gateway listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
