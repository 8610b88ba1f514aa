// Command migrate manages the paydrift database schema via goose.
//
// Usage:
//
//	go run ./cmd/migrate up                 # Apply all pending migrations
//	go run ./cmd/migrate down               # Roll back the last migration
//	go run ./cmd/migrate status             # Show migration status
//	go run ./cmd/migrate -dir db/extra up   # Use a different migrations dir
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/paydrift/paydrift/internal/logging"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding the goose migration files")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	logger := logging.New("info", "text")

	// Same .env convenience as the server, but only DATABASE_URL is
	// needed here; the full config insists on Stripe credentials.
	_ = godotenv.Load()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL must be set to run migrations")
		os.Exit(1)
	}

	if _, err := os.Stat(*dir); err != nil {
		logger.Error("migrations directory not found", "dir", *dir, "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	if err := goose.RunContext(context.Background(), command, db, *dir, args...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "command", command, "dir", *dir)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-dir <path>] <command> [args]")
	fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
}
