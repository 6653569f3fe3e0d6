package main

import (
	"flag"
	"log"

	"github.com/smartpop/popup-analytics/internal/config"
	"github.com/smartpop/popup-analytics/internal/migration"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "configs/config.local.yaml", "config file path")
	purgeCache := flag.Bool("purge-cache", false, "empty the durable cache table after migrating")
	verbose := flag.Bool("verbose", false, "verbose SQL logging")
	flag.Parse()

	config.LoadDotEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := gormlogger.Warn
	if *verbose {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.Database.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying DB: %v", err)
	}
	defer sqlDB.Close()

	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Migrated %d tables", len(migration.Models()))

	if *purgeCache {
		n, err := migration.PurgeCache(db)
		if err != nil {
			log.Fatalf("Failed to purge cache: %v", err)
		}
		log.Printf("Purged %d cache rows", n)
	}
}
