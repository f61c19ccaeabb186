package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the store and supplies what data migrations need.
type Options struct {
	Driver        string
	Path          string
	DSN           string
	TokenProvider names.TokenProvider
}

// Open establishes the configured connection and performs schema and data migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	var target string
	switch options.Driver {
	case DriverSQLite, "":
		if options.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		dialector = sqlite.Open(options.Path)
		target = options.Path
	case DriverPostgres:
		if options.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		dialector = postgres.Open(options.DSN)
		target = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}

	if options.Driver != DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, options.TokenProvider, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", dialector.Name()), zap.String("target", target))
	return db, nil
}

// Migrate brings the schema up to date and applies pending data migrations.
func Migrate(db *gorm.DB, tokens names.TokenProvider, logger *zap.Logger) error {
	if err := db.AutoMigrate(&names.Fragment{}, &names.Composite{}, &names.RecentVote{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, tokens, logger)
}
