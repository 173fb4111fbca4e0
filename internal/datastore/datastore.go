// Package datastore persists contribution metadata, feedback and
// server-side consent records through GORM.
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/consent"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DefaultSlowQueryThreshold is used when no threshold is configured.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// Interface is the metadata store used by the contribution services and
// the HTTP API.
type Interface interface {
	CreateContribution(ctx context.Context, c *Contribution) error
	ListContributionsByUser(ctx context.Context, userID string) ([]Contribution, error)
	CreateFeedback(ctx context.Context, f *Feedback) error

	GetConsent(ctx context.Context, userID string) (*UserConsent, error)
	UpsertConsent(ctx context.Context, userID string, m consent.Map, meta AuditMeta) (*UserConsent, error)
	ListConsentAudit(ctx context.Context, userID string, limit int) ([]ConsentAudit, error)
	DeleteUserData(ctx context.Context, userID string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

// Store implements Interface on a GORM connection.
type Store struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

var _ Interface = (*Store)(nil)

// Open connects to the configured database and migrates the schema.
func Open(settings *conf.DatabaseSettings) (*Store, error) {
	var (
		dialector gorm.Dialector
		err       error
	)
	switch settings.Driver {
	case DriverSQLite, "":
		dialector, err = sqliteDialector(&settings.SQLite)
	case DriverMySQL:
		dialector, err = mysqlDialector(&settings.MySQL)
	case DriverPostgres:
		dialector, err = postgresDialector(&settings.Postgres)
	default:
		err = errors.Newf("unsupported database driver %q", settings.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	driver := settings.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	return OpenDialector(driver, dialector, settings.SlowQueryThreshold)
}

// OpenDialector opens a connection through an existing dialector and
// migrates the schema.
func OpenDialector(driver string, dialector gorm.Dialector, slowThreshold time.Duration) (*Store, error) {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowQueryThreshold
	}
	log := GetLogger().With(logger.String("driver", driver))

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.NewGormLogger(log, slowThreshold),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, dbError(fmt.Errorf("failed to open %s database: %w", driver, err), "open", errors.PriorityHigh)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, dbError(fmt.Errorf("failed to migrate schema: %w", err), "migrate", errors.PriorityHigh)
	}

	log.Info("database ready")
	return &Store{db: db, driver: driver, log: log}, nil
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Driver returns the driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	return nil
}
