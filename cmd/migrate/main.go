package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/Rrens/sales-copilot/internal/repository/postgres"
	"github.com/joho/godotenv"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Connecting to database at %s:%d...\n", cfg.Database.Host, cfg.Database.Port)

	if *down {
		err = postgres.RollbackMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath)
	} else {
		err = postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migrations applied successfully")
}
