package lot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// ErrNoLots is returned when no source produced data and no cache exists.
var ErrNoLots = errors.New("no lot data available")

// Repository merges lots from its sources into one deduplicated list.
//
// A source error never fails the whole fetch: the other sources still count.
// When every source fails, the last good result cached at CachePath is used.
type Repository struct {
	Sources   []Source
	CachePath string
	Logger    *zap.Logger
}

// NewRepository creates a repository over the given sources.
func NewRepository(cachePath string, logger *zap.Logger, sources ...Source) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{Sources: sources, CachePath: cachePath, Logger: logger}
}

// Lots fetches, merges and deduplicates the lots from all sources.
func (r *Repository) Lots(ctx context.Context) ([]Lot, error) {
	if len(r.Sources) == 0 {
		cached, err := r.readCache()
		if err != nil {
			return nil, fmt.Errorf("%w: no sources configured", ErrNoLots)
		}
		return cached, nil
	}

	var (
		all      []Lot
		failures int
		lastErr  error
	)

	for _, src := range r.Sources {
		lots, err := src.Fetch(ctx)
		if err != nil {
			failures++
			lastErr = err
			r.Logger.Warn("lot source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		r.Logger.Debug("lot source fetched", zap.String("source", src.Name()), zap.Int("lots", len(lots)))
		all = append(all, lots...)
	}

	if failures == len(r.Sources) {
		cached, err := r.readCache()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoLots, lastErr)
		}
		r.Logger.Warn("all lot sources failed, serving cached lots", zap.Int("lots", len(cached)))
		return cached, nil
	}

	lots := Dedupe(all)
	if err := r.writeCache(lots); err != nil {
		r.Logger.Warn("failed to write lots cache", zap.String("path", r.CachePath), zap.Error(err))
	}
	return lots, nil
}

func (r *Repository) readCache() ([]Lot, error) {
	if r.CachePath == "" {
		return nil, ErrNoLots
	}
	data, err := os.ReadFile(r.CachePath)
	if err != nil {
		return nil, err
	}
	var lots []Lot
	if err := json.Unmarshal(data, &lots); err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *Repository) writeCache(lots []Lot) error {
	if r.CachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.CachePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(lots, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(r.CachePath, bytes.NewReader(data))
}
