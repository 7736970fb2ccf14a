package mirror

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate applies the mirror schema using Gorm's AutoMigrate and logs progress.
func Migrate(ctx context.Context, conn *gorm.DB, logger *logrus.Logger) error {
	if conn == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "mirror.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying mirror schema")
	}

	if err := conn.WithContext(ctx).AutoMigrate(&PageRecord{}, &PageTag{}, &Category{}, &Post{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("mirror schema migration failed")
		}
		return eris.Wrap(err, "auto migrating mirror schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("mirror schema migration complete")
	}

	return nil
}
