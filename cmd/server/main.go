/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the shop engine server: configuration, logger,
  SQLite store, engines, HTTP router and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the JSON logger
  3. Open and migrate the SQLite store
  4. Wire the engines into the API handler
  5. Optionally load a demo scenario
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080, env PORT)
  -db         SQLite database path (default: shop.db, env DB_PATH)
              Use ":memory:" for in-memory database
  -log-level  debug | info | warn | error (env LOG_LEVEL)
  -seed       Demo scenario to load at startup (env SEED_SCENARIO)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/shop.db"
  ./server -db=":memory:" -seed=bookstore
  PORT=3000 LOG_LEVEL=debug ./server

SEE ALSO:
  - config/config.go: Settings and precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/shop-engine/api"
	"github.com/warp/shop-engine/config"
	"github.com/warp/shop-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := config.NewLogger(cfg)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).WithField("db", cfg.DBPath).Fatal("failed to initialize database")
	}
	defer store.Close()

	handler := api.NewHandler(store, log)
	if cfg.SeedScenario != "" {
		if err := handler.LoadScenarioByID(context.Background(), cfg.SeedScenario); err != nil {
			log.WithError(err).WithField("scenario", cfg.SeedScenario).Warn("failed to load seed scenario")
		}
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr(), "db": cfg.DBPath}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
		return
	}
	log.Info("server stopped")
}
