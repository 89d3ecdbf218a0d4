// Package catalog caches probed asset durations in SQLite so repeated
// playlist loads do not re-probe unchanged media. The catalog sits entirely
// outside the playout hot path: it is consulted when blocks are built,
// never per tick.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/playoutd/internal/decode"
)

// AssetDuration is one cached probe result.
type AssetDuration struct {
	AssetRef   string `gorm:"primaryKey"`
	DurationMs int64
	ProbedAt   time.Time
}

// Catalog is a duration cache backed by SQLite through GORM.
type Catalog struct {
	db     *gorm.DB
	prober decode.DurationProber
	logger *slog.Logger
}

// Open opens (creating if needed) the catalog database at dsn and runs
// migrations. prober supplies durations on cache misses; it may be nil, in
// which case misses are errors.
func Open(dsn string, logLevel string, prober decode.DurationProber, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(gormLogLevel(logLevel)),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	if err := db.AutoMigrate(&AssetDuration{}); err != nil {
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	return &Catalog{db: db, prober: prober, logger: log}, nil
}

func gormLogLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// ErrNoProber is returned by DurationFor on a cache miss with no prober.
var ErrNoProber = errors.New("catalog: cache miss and no prober configured")

// Lookup returns the cached duration for an asset, if present.
func (c *Catalog) Lookup(assetRef string) (int64, bool, error) {
	var row AssetDuration
	err := c.db.First(&row, "asset_ref = ?", assetRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("catalog lookup for %q: %w", assetRef, err)
	}
	return row.DurationMs, true, nil
}

// Store upserts a probed duration.
func (c *Catalog) Store(assetRef string, durationMs int64) error {
	row := AssetDuration{AssetRef: assetRef, DurationMs: durationMs, ProbedAt: time.Now().UTC()}
	if err := c.db.Save(&row).Error; err != nil {
		return fmt.Errorf("catalog store for %q: %w", assetRef, err)
	}
	return nil
}

// DurationFor returns the asset's duration in milliseconds, probing and
// caching on a miss.
func (c *Catalog) DurationFor(ctx context.Context, assetRef string) (int64, error) {
	ms, ok, err := c.Lookup(assetRef)
	if err != nil {
		return 0, err
	}
	if ok {
		return ms, nil
	}
	if c.prober == nil {
		return 0, fmt.Errorf("%w: %q", ErrNoProber, assetRef)
	}

	d, err := c.prober.ProbeDuration(ctx, assetRef)
	if err != nil {
		return 0, fmt.Errorf("probing %q: %w", assetRef, err)
	}
	ms = d.Milliseconds()
	if err := c.Store(assetRef, ms); err != nil {
		return 0, err
	}
	c.logger.Debug("asset duration cached",
		slog.String("asset", assetRef),
		slog.Int64("duration_ms", ms))
	return ms, nil
}

// Invalidate removes an asset's cached duration.
func (c *Catalog) Invalidate(assetRef string) error {
	if err := c.db.Delete(&AssetDuration{}, "asset_ref = ?", assetRef).Error; err != nil {
		return fmt.Errorf("catalog invalidate for %q: %w", assetRef, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
