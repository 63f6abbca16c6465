/*
config.go - Runtime configuration

PURPOSE:
  Collects the server's settings from three layers, lowest to highest
  precedence:
    1. built-in defaults
    2. environment variables (a local .env file is loaded first if present)
    3. command-line flags

VARIABLES:
  PORT           HTTP port (default 8080)             flag -port
  DB_PATH        SQLite path or ":memory:"            flag -db
  LOG_LEVEL      logrus level name (default info)     flag -log-level
  CORS_ORIGINS   comma-separated allowed origins
  SEED_SCENARIO  demo scenario loaded at startup      flag -seed

  Variables already set in the process environment win over .env.
*/
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultPort     = 8080
	defaultDBPath   = "shop.db"
	defaultLogLevel = "info"
	defaultOrigins  = "http://localhost:5173,http://localhost:8080"
)

// Config holds all runtime settings of the server.
type Config struct {
	Port         int
	DBPath       string
	LogLevel     string
	CORSOrigins  []string
	SeedScenario string
}

// Addr is the listen address for net/http.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load reads defaults, .env, the environment and then args (without the
// program name).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	port := defaultPort
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("PORT %q: %w", v, err)
		}
		port = p
	}

	cfg := Config{
		Port:         port,
		DBPath:       envOr("DB_PATH", defaultDBPath),
		LogLevel:     envOr("LOG_LEVEL", defaultLogLevel),
		CORSOrigins:  splitList(envOr("CORS_ORIGINS", defaultOrigins)),
		SeedScenario: os.Getenv("SEED_SCENARIO"),
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.SeedScenario, "seed", cfg.SeedScenario, "demo scenario to load at startup")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("log level: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
