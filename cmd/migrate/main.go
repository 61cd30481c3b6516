// Command migrate applies or rolls back the embedded database migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/temmyjay001/claimsflow-webhooks/internal/config"
	"github.com/temmyjay001/claimsflow-webhooks/internal/storage"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of applying pending ones")
	flag.Parse()

	if *down < 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreDriver == config.StoreDriverMemory {
		fmt.Fprintln(os.Stderr, "STORE_DRIVER is memory; nothing to migrate")
		os.Exit(1)
	}

	if *down > 0 {
		if err := storage.RollbackMigrations(cfg.DatabaseURL, *down); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to roll back migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", *down)
		return
	}

	if err := storage.RunMigrations(cfg.DatabaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations up to date")
}
