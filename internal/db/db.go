package db

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/catalog"
	"github.com/emberhq/companion/internal/character"
	"github.com/emberhq/companion/internal/chat"
	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/settings"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("db handle")
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gdb
}

// Migrate creates or updates all application tables.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&catalog.Provider{},
		&catalog.Model{},
		&character.Character{},
		&character.GalleryImage{},
		&chat.Session{},
		&chat.Message{},
		&chat.Job{},
		&chat.UpsellEvent{},
		&settings.ChatToolSettings{},
	)
}
