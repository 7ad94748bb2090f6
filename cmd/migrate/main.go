package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/zhouzirui/agentchat/backend/internal/config"
	"github.com/zhouzirui/agentchat/backend/internal/repository/records/migrations"
)

func main() {
	steps := pflag.Int("steps", 0, "number of migrations to apply; negative rolls back, 0 migrates fully up")
	configFile := pflag.String("config", "", "optional YAML config file")
	printSQL := pflag.Bool("print", false, "print the schema instead of applying it")
	pflag.Parse()

	if *printSQL {
		sql, err := migrations.UpSQL()
		if err != nil {
			log.Fatalf("failed to read migrations: %v", err)
		}
		log.Print("\n" + sql)
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if !cfg.Database.Enabled() {
		log.Fatal("DATABASE_URL is not set")
	}

	if err := migrations.Run(cfg.Database.URL, *steps); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}
