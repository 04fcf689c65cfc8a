// Package analyzer computes competitor proximity for own stores. A single
// analysis queries the registry for active competitors within a search radius
// and persists the ranked result; batch runs fan out over all active own
// stores with bounded concurrency and collect per-store failures instead of
// aborting.
package analyzer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/retailscope/proximity-cli/internal/model"
	"github.com/retailscope/proximity-cli/internal/registry"
)

// ErrInvalidRadius marks a non-positive search radius.
var ErrInvalidRadius = eris.New("analyzer: search radius must be positive")

const defaultWorkers = 5

// Analyzer runs proximity analyses against a Registry.
type Analyzer struct {
	reg     registry.Registry
	workers int
	now     func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers caps batch concurrency. Values below 1 keep the default.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n >= 1 {
			a.workers = n
		}
	}
}

// WithClock overrides the timestamp source. Tests use this for deterministic
// AnalyzedAt values.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an Analyzer over the given registry.
func New(reg registry.Registry, opts ...Option) *Analyzer {
	a := &Analyzer{
		reg:     reg,
		workers: defaultWorkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeOne computes and persists the competitor analysis for one own store.
// Competitors come back ascending by distance; an empty result is a valid
// analysis, not an error.
func (a *Analyzer) AnalyzeOne(ctx context.Context, ownStoreID string, radiusKm float64) (*model.CompetitorAnalysis, error) {
	if radiusKm <= 0 {
		return nil, eris.Wrapf(ErrInvalidRadius, "analyzer: radius %v", radiusKm)
	}

	own, err := a.reg.GetOwnStore(ctx, ownStoreID)
	if err != nil {
		return nil, err
	}

	center, err := own.Location()
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer: store %s", ownStoreID)
	}

	neighbors, err := a.reg.FindWithinRadius(ctx, center, radiusKm, model.PartitionCompetitor)
	if err != nil {
		return nil, err
	}

	analysis := &model.CompetitorAnalysis{
		AnalysisID:     uuid.New().String(),
		OwnStore:       *own,
		Competitors:    make([]model.CompetitorDistance, 0, len(neighbors)),
		SearchRadiusKm: radiusKm,
		AnalyzedAt:     a.now().UTC(),
	}
	for _, n := range neighbors {
		analysis.Competitors = append(analysis.Competitors, model.CompetitorDistance{
			Store:      n.Store,
			DistanceKm: n.DistanceKm,
		})
	}

	if err := a.reg.SaveAnalysis(ctx, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// BatchResult aggregates a batch run. Failures maps store id to the error
// that stopped that store's analysis; completed analyses are kept even when
// others fail or the run is cancelled mid-flight.
type BatchResult struct {
	Analyses  []*model.CompetitorAnalysis
	Failures  map[string]error
	Cancelled bool
}

// Succeeded returns the number of completed analyses.
func (r *BatchResult) Succeeded() int { return len(r.Analyses) }

// Failed returns the number of stores whose analysis errored.
func (r *BatchResult) Failed() int { return len(r.Failures) }

// AnalyzeAll runs AnalyzeOne for every active own store with bounded
// concurrency. Per-store failures are collected, not fatal; only listing the
// stores or cancellation ends the run early.
func (a *Analyzer) AnalyzeAll(ctx context.Context, radiusKm float64) (*BatchResult, error) {
	if radiusKm <= 0 {
		return nil, eris.Wrapf(ErrInvalidRadius, "analyzer: radius %v", radiusKm)
	}

	log := zap.L().With(zap.String("component", "analyzer"))

	stores, err := a.reg.ListOwnStores(ctx, true)
	if err != nil {
		return nil, err
	}

	log.Info("starting batch analysis",
		zap.Int("stores", len(stores)),
		zap.Float64("radius_km", radiusKm),
		zap.Int("concurrency", a.workers),
	)

	result := &BatchResult{Failures: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, store := range stores {
		storeID := store.StoreID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				mu.Lock()
				result.Cancelled = true
				mu.Unlock()
				return nil
			}

			analysis, err := a.AnalyzeOne(gctx, storeID, radiusKm)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					result.Cancelled = true
					return nil
				}
				log.Warn("store analysis failed",
					zap.String("store_id", storeID),
					zap.Error(err),
				)
				result.Failures[storeID] = err
				return nil
			}
			result.Analyses = append(result.Analyses, analysis)
			return nil
		})
	}

	// Workers never return errors, so Wait only blocks for completion.
	_ = g.Wait()
	if ctx.Err() != nil {
		result.Cancelled = true
	}

	log.Info("batch analysis finished",
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("failed", result.Failed()),
		zap.Bool("cancelled", result.Cancelled),
	)
	return result, nil
}
