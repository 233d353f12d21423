/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the encargos calculation service: configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment config (.env honored)
  2. Initialize the structured logger
  3. Open the SQLite calculation store
  4. Build the ERP client and calculation engine
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT env)
  -db      SQLite database path (overrides DATABASE_PATH env)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for active
  requests, close the database, exit.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comexflow/encargos/api"
	"github.com/comexflow/encargos/config"
	"github.com/comexflow/encargos/engine"
	"github.com/comexflow/encargos/erp"
	"github.com/comexflow/encargos/logger"
	"github.com/comexflow/encargos/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override env for local runs.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()

	log := logger.Init(cfg.LogLevel)

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Error("failed to initialize database", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	client := erp.NewClient(erp.Config{
		BaseURL:           cfg.ERPBaseURL,
		Username:          cfg.ERPUsername,
		Password:          cfg.ERPPassword,
		Timeout:           cfg.ERPTimeout,
		RequestsPerSecond: cfg.ERPRequestsPerSecond,
		CacheTTL:          cfg.ERPCacheTTL,
	}, log)

	accumulator := &engine.Accumulator{Rates: client, Policy: cfg.MissingRates, Log: log}
	orchestrator := &engine.Orchestrator{
		Processes:    client,
		Rates:        client,
		Installments: client,
		Expenses:     client,
		Reconciler:   engine.NewReconciler(client, engine.NewLateInterestCalculator(accumulator)),
		Store:        store,
		Log:          log,
	}

	handler := &api.Handler{
		Orchestrator: orchestrator,
		Store:        store,
		Rates:        client,
		Processes:    client,
		Installments: client,
		Submitter:    client,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "err", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
