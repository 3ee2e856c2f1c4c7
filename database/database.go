package database

import (
	"fmt"
	"log"

	"iconforge/internal/domain/billing"
	"iconforge/internal/domain/teams"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MustOpen connects to Postgres and migrates the billing schema.
// Any failure here is fatal: the process must not come up half-wired.
func MustOpen(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := Migrate(db); err != nil {
		log.Fatal("AutoMigrate error:", err)
	}

	fmt.Println("Connected and migrated successfully")
	return db
}

// Migrate runs schema migration for all billing-core models. Split out of
// MustOpen so tests can reuse it against an in-memory database.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&billing.Subscription{},
		&billing.ProcessedEvent{},
		&billing.DunningNotice{},
		&teams.Team{},
	)
}
