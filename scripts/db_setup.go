package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/polyflow/storage"
)

// One-shot schema bootstrap: migrates every persisted entity and prints the
// resulting table status. Safe to re-run; AutoMigrate only adds what is
// missing.
func main() {
	godotenv.Load()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		fmt.Println("❌ DATABASE_URL not set")
		os.Exit(1)
	}

	fmt.Println("🔌 Connecting to database...")
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		db, err = gorm.Open(postgres.Open(url), gcfg)
	} else {
		db, err = gorm.Open(sqlite.Open(url), gcfg)
	}
	if err != nil {
		fmt.Printf("❌ Connection error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Database connected!")

	fmt.Println("\n📝 Migrating schema...")
	if err := db.AutoMigrate(storage.Models()...); err != nil {
		fmt.Printf("❌ Migration error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Schema migrated!")

	fmt.Println("\n📊 Table status:")
	for _, m := range storage.Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			fmt.Printf("  ⚠️ %T: %v\n", m, err)
			continue
		}

		var n int64
		if err := db.Model(m).Count(&n).Error; err != nil {
			fmt.Printf("  ⚠️ %s: %v\n", stmt.Schema.Table, err)
			continue
		}
		fmt.Printf("  - %s: %d rows\n", stmt.Schema.Table, n)
	}

	fmt.Println("\n✅ DATABASE READY!")
}
