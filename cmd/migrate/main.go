// Schema migration CLI. Exit codes: 0 success, 1 usage error, 2 database
// unreachable, 3 migration failure.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/kobyzev-yuri/lse/internal/db"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	command := fs.String("command", "migrate", "Command to run: migrate or status")
	dbURL := fs.String("db", os.Getenv("LSE_DATABASE_URL"), "Database connection URL")
	dir := fs.String("migrations", "migrations", "Path to migrations directory")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}

	if *dbURL == "" {
		fmt.Fprintln(os.Stderr, "database URL is required (-db or LSE_DATABASE_URL)")
		return 1
	}

	database, err := sql.Open("postgres", *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 2
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		return 2
	}

	migrator := db.NewMigrator(database, *dir)
	switch *command {
	case "migrate":
		if err := migrator.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			return 3
		}
	case "status":
		if err := migrator.Status(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			return 3
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		return 1
	}
	return 0
}
