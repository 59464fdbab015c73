package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"immostats/internal/models"
)

// ErrPersistenceConflict marks an upsert rejected by a database constraint
var ErrPersistenceConflict = errors.New("persistence conflict")

// upsertColumns are overwritten when a row with the same external_id exists
var upsertColumns = []string{
	"source", "scraped_at", "published_at",
	"price", "price_per_sqm", "surface", "rooms", "bedrooms",
	"property_type", "transaction_type",
	"city", "postal_code", "department", "region", "latitude", "longitude",
	"title", "description", "url", "image_urls",
	"updated_at",
}

type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewDatabase opens the property store. For sqlite, dsn is the database file path.
func NewDatabase(driver, dsn string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn + "?_foreign_keys=on&_busy_timeout=5000")
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		// One writer at a time; readers share the same handle
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Database{db: db, logger: logger}, nil
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunMigrations creates or updates the properties table and its indexes
func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&models.Property{}); err != nil {
		return fmt.Errorf("failed to migrate properties table: %w", err)
	}
	return nil
}

// UpsertProperty inserts the property or, when its external_id already
// exists, overwrites every mutable column and refreshes updated_at.
func (d *Database) UpsertProperty(ctx context.Context, property *models.Property) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(property).Error
	if err == nil {
		return nil
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %s: %v", ErrPersistenceConflict, property.ExternalID, err)
	}
	return fmt.Errorf("failed to upsert property %s: %w", property.ExternalID, err)
}

// FindByExternalID returns nil when no row matches
func (d *Database) FindByExternalID(ctx context.Context, externalID string) (*models.Property, error) {
	var property models.Property
	err := d.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query property: %w", err)
	}
	return &property, nil
}

func (d *Database) CountProperties(ctx context.Context, filter models.PropertyFilter) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Property{}).Scopes(filterScope(filter)).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}
	return count, nil
}

// ListMetrics returns the numeric projection of every row matching the filter
func (d *Database) ListMetrics(ctx context.Context, filter models.PropertyFilter) ([]models.PropertyMetrics, error) {
	var rows []models.PropertyMetrics
	err := d.db.WithContext(ctx).
		Model(&models.Property{}).
		Scopes(filterScope(filter)).
		Select("city, price, price_per_sqm, surface, scraped_at").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query property metrics: %w", err)
	}
	return rows, nil
}

type cityAverageRow struct {
	City           string
	ListingsCount  int
	AvgPrice       *float64
	AvgPricePerSqm *float64
	AvgSurface     *float64
}

// CityAverages groups matching rows by city and orders the groups by their
// mean price per square meter.
func (d *Database) CityAverages(ctx context.Context, filter models.PropertyFilter, descending bool, limit int) ([]models.CityRanking, error) {
	var rows []cityAverageRow
	err := d.db.WithContext(ctx).
		Model(&models.Property{}).
		Scopes(filterScope(filter)).
		Select(`city,
			COUNT(*) AS listings_count,
			AVG(price) AS avg_price,
			AVG(price_per_sqm) AS avg_price_per_sqm,
			AVG(surface) AS avg_surface`).
		Where("city IS NOT NULL AND city <> ''").
		Group("city").
		Having("AVG(price_per_sqm) IS NOT NULL").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "avg_price_per_sqm"}, Desc: descending}).
		Order("city").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query city averages: %w", err)
	}

	rankings := make([]models.CityRanking, len(rows))
	for i, row := range rows {
		rankings[i] = models.CityRanking{
			City:           row.City,
			ListingsCount:  row.ListingsCount,
			AvgPrice:       valueOrZero(row.AvgPrice),
			AvgPricePerSqm: valueOrZero(row.AvgPricePerSqm),
			AvgSurface:     valueOrZero(row.AvgSurface),
		}
	}
	return rankings, nil
}

// PropertiesInBounds returns matching rows whose coordinates fall inside the
// latitude/longitude rectangle (inclusive).
func (d *Database) PropertiesInBounds(ctx context.Context, filter models.PropertyFilter, minLat, maxLat, minLng, maxLng float64) ([]models.Property, error) {
	var properties []models.Property
	err := d.db.WithContext(ctx).
		Scopes(filterScope(filter)).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("latitude BETWEEN ? AND ?", minLat, maxLat).
		Where("longitude BETWEEN ? AND ?", minLng, maxLng).
		Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query properties in bounds: %w", err)
	}
	return properties, nil
}

// PurgeOlderThan deletes rows last ingested before cutoff
func (d *Database) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Where("scraped_at < ?", cutoff).Delete(&models.Property{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge properties: %w", result.Error)
	}
	d.logger.WithFields(logrus.Fields{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": result.RowsAffected,
	}).Info("Purged properties older than cutoff")
	return result.RowsAffected, nil
}

func filterScope(filter models.PropertyFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.City != "" {
			db = db.Where("LOWER(city) = LOWER(?)", filter.City)
		}
		if filter.PostalCode != "" {
			db = db.Where("postal_code = ?", filter.PostalCode)
		}
		if filter.Department != "" {
			db = db.Where("department = ?", strings.ToUpper(filter.Department))
		}
		if filter.PropertyType != "" {
			db = db.Where("property_type = ?", filter.PropertyType)
		}
		if filter.TransactionType != "" {
			db = db.Where("transaction_type = ?", filter.TransactionType)
		}
		return db
	}
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 23: integrity constraint violation
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
