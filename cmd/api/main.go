package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanengine/pkg/config"
	"github.com/mcclellann/loanengine/pkg/ledger"
	"github.com/mcclellann/loanengine/pkg/logger"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/mcclellann/loanengine/pkg/workflow"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, AddSource: cfg.Log.AddSource})
	slog.SetDefault(log)

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	defer sqliteStore.Close()
	sqliteStore.SetOutboxLease(cfg.Workflow.ClaimLease)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := range cfg.Products {
		if err := sqliteStore.UpsertProduct(ctx, &cfg.Products[i]); err != nil {
			return err
		}
	}
	log.Info("product catalog loaded", "products", len(cfg.Products))

	l := ledger.NewLedger(sqliteStore,
		ledger.WithLogger(log),
		ledger.WithRiskWorkers(cfg.Risk.Workers),
	)

	var starter workflow.Starter = workflow.LogStarter{Logger: log}
	if cfg.Workflow.StarterURL != "" {
		starter = workflow.NewHTTPStarter(cfg.Workflow.StarterURL, cfg.Workflow.HTTPTimeout)
	}
	worker := workflow.NewWorker(sqliteStore, starter, log, workflow.WorkerConfig{
		BatchSize:   cfg.Workflow.BatchSize,
		MaxAttempts: cfg.Workflow.MaxAttempts,
	})
	go worker.Run(ctx, cfg.Workflow.PollInterval)

	// Age every active loan on a fixed cadence so days past due move even
	// when no repayment arrives.
	go func() {
		ticker := time.NewTicker(cfg.Risk.ReevaluateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.ReevaluateRisk(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("scheduled risk re-evaluation failed", "err", err)
				}
			}
		}
	}()

	server := NewServer(l, sqliteStore, log)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", httpServer.Addr, "env", cfg.Env)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
