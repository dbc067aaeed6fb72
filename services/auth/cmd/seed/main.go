package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"schoollib/internal/util"
	"schoollib/pkg/store"
	"schoollib/services/auth/internal/config"
)

func main() {
	file := flag.String("file", "seed.yaml", "YAML file with role records, profiles and accounts")
	dsn := flag.String("database-url", "", "database URL; defaults to the auth service config")
	flag.Parse()

	databaseURL := *dsn
	logLevel := os.Getenv("LOG_LEVEL")
	if databaseURL == "" {
		cfg, err := config.Load("")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		databaseURL = cfg.DatabaseURL
		logLevel = cfg.LogLevel
	}
	util.InitLogger(logLevel)

	db, err := store.NewGormStore(databaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sum, err := store.SeedFromFile(ctx, db, *file)
	if err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	slog.Info("seed complete",
		"file", *file,
		"staff_records", sum.StaffRecords,
		"student_records", sum.StudentRecords,
		"profiles", sum.Profiles,
		"accounts", sum.Accounts,
	)
}
