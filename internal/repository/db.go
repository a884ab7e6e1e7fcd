package repository

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"insight-engine-backend/config"
)

// NewDB opens the MySQL metadata database holding the dataset catalog and
// query history.
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to metadata database")
		return nil, fmt.Errorf("failed to connect metadata database: %w", err)
	}

	if err := db.AutoMigrate(&Dataset{}, &QueryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata schema: %w", err)
	}

	log.Info().Str("database", cfg.Database.Name).Msg("Metadata database connected")
	return db, nil
}
