package migration

import (
	"strings"

	"github.com/smallbiznis/nfsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date for the configured database.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
	if dbType == "" || dbType == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("database migrations applied", zap.String("db_type", "postgres"))
		return nil
	}

	if err := AutoMigrate(conn); err != nil {
		return err
	}
	log.Info("database schema synced", zap.String("db_type", dbType))
	return nil
}
