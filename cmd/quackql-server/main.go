package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/quackql/quackql/internal/attemptlog"
	"github.com/quackql/quackql/internal/config"
	"github.com/quackql/quackql/internal/engine"
	"github.com/quackql/quackql/internal/executor"
	"github.com/quackql/quackql/internal/mcptools"
	"github.com/quackql/quackql/internal/nl2sql"
	"github.com/quackql/quackql/internal/observability"
	"github.com/quackql/quackql/internal/semantic"
	"github.com/quackql/quackql/internal/server"
	"github.com/quackql/quackql/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// On stdio the protocol owns stdout; logs go to stderr.
	logWriter := os.Stdout
	if cfg.Service.Transport == config.TransportStdio {
		logWriter = os.Stderr
	}
	logger := observability.NewLogger(cfg, logWriter)

	fetcher, err := storage.NewFetcher(cfg.ObjectStore, cacheDir())
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	pool := executor.NewPool(fetcher)
	defer pool.Close()

	attempts, err := attemptlog.Open(context.Background(), cfg.LogStore.Locator)
	if err != nil {
		logger.Error("failed to open attempt log", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = attempts.Close() }()

	service := &engine.Service{
		Executor: pool,
		Attempts: attempts,
		Logger:   logger,
	}

	mcp := mcpserver.NewMCPServer(
		cfg.Service.Name,
		cfg.Service.Version,
		mcpserver.WithToolCapabilities(true),
	)

	builder := &semantic.Builder{Pool: pool, Logger: logger}
	for _, tool := range cfg.Tools {
		sc, err := builder.Build(context.Background(), tool)
		if err != nil {
			logger.Error("failed to build semantic context",
				slog.String("tool", tool.Name),
				slog.Any("error", err),
			)
			os.Exit(1)
		}
		// Auto-discovered table names must reach the prompt rules.
		tool.TableName = sc.TableName

		caller, err := nl2sql.NewCaller(tool.LLM)
		if err != nil {
			logger.Error("failed to initialize llm client",
				slog.String("tool", tool.Name),
				slog.Any("error", err),
			)
			os.Exit(1)
		}
		generator := &nl2sql.Generator{
			Caller:         caller,
			TableName:      sc.TableName,
			ContextText:    sc.Render(tool.Prompt),
			ResponsePrefix: tool.Prompt.ResponsePrefix,
		}
		mcptools.Register(mcp, service, tool, generator, logger)
	}

	if cfg.Service.Transport == config.TransportStdio {
		logger.Info("starting mcp server on stdio", slog.String("service", cfg.Service.Name))
		if err := mcpserver.ServeStdio(mcp); err != nil {
			logger.Error("stdio server failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	handler := server.NewHandler(cfg, mcp, logger)
	httpServer := &http.Server{
		Addr:         cfg.Service.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
		IdleTimeout:  cfg.Service.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting mcp server", slog.String("addr", cfg.Service.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down mcp server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = httpServer.Close()
		os.Exit(1)
	}
}

func cacheDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "quackql", "parquet")
	}
	return filepath.Join(os.TempDir(), "quackql-parquet")
}
