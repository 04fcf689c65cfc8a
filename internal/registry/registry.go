// Package registry persists own-brand and competitor store records and the
// latest competitor analysis per own store. Two backends implement the same
// contract: Postgres (pgx) for shared deployments and SQLite for single-node
// use and test isolation.
package registry

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/retailscope/proximity-cli/internal/geo"
	"github.com/retailscope/proximity-cli/internal/model"
)

var (
	// ErrNotFound marks a missing store or analysis. Expected, not exceptional.
	ErrNotFound = eris.New("registry: not found")

	// ErrDuplicateStore marks an insert whose store id already exists in
	// either partition. The caller decides whether to update instead.
	ErrDuplicateStore = eris.New("registry: duplicate store id")

	// ErrStorageUnavailable marks a backend I/O failure. The registry never
	// retries; retry policy belongs to the caller.
	ErrStorageUnavailable = eris.New("registry: storage unavailable")
)

// Neighbor pairs a store with its distance from a query center.
type Neighbor struct {
	Store      model.StoreRecord `json:"store"`
	DistanceKm float64           `json:"distance_km"`
}

// Registry is the aggregate root over both store partitions and the
// latest-analysis table. All operations are synchronous; none mutate their
// inputs beyond stamping timestamps on inserted records.
type Registry interface {
	// AddOwnStore inserts a record into the own partition. The record's
	// chain must be ChainOwn.
	AddOwnStore(ctx context.Context, rec *model.StoreRecord) error

	// AddCompetitorStore inserts a record into the competitor partition.
	AddCompetitorStore(ctx context.Context, rec *model.StoreRecord) error

	// GetStore looks up a store id across both partitions.
	GetStore(ctx context.Context, storeID string) (*model.StoreRecord, model.Partition, error)

	// GetOwnStore looks up a store id in the own partition only; an id that
	// belongs to a competitor returns ErrNotFound.
	GetOwnStore(ctx context.Context, storeID string) (*model.StoreRecord, error)

	// ListOwnStores returns own stores ordered by city then name.
	ListOwnStores(ctx context.Context, activeOnly bool) ([]model.StoreRecord, error)

	// ListOwnStoresByCity / ListOwnStoresByState match the stored field
	// exactly, case-sensitively. No fuzzy matching.
	ListOwnStoresByCity(ctx context.Context, city string) ([]model.StoreRecord, error)
	ListOwnStoresByState(ctx context.Context, state string) ([]model.StoreRecord, error)

	// ListCompetitorStores returns competitor stores, optionally restricted
	// to one chain. A nil chain returns every competitor.
	ListCompetitorStores(ctx context.Context, chain *model.Chain) ([]model.StoreRecord, error)

	// FindWithinRadius returns active stores of the given partition within
	// radiusKm of center, ascending by distance, ties broken by store id.
	// The backend prefilters with an indexed bounding box; exact distances
	// come from a haversine scan over the candidates.
	FindWithinRadius(ctx context.Context, center geo.Coordinate, radiusKm float64, pool model.Partition) ([]Neighbor, error)

	// DeactivateStore marks a store closed without deleting history.
	DeactivateStore(ctx context.Context, storeID string) error

	// SaveAnalysis upserts the latest analysis for an own store, fully
	// replacing any prior one. Atomic with respect to GetAnalysis readers.
	SaveAnalysis(ctx context.Context, analysis *model.CompetitorAnalysis) error

	// GetAnalysis returns the latest analysis for an own store, rehydrating
	// competitor records from the competitor partition. Competitors deleted
	// since the analysis ran are dropped from the result.
	GetAnalysis(ctx context.Context, ownStoreID string) (*model.CompetitorAnalysis, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// rankWithinRadius applies the exact haversine filter and ordering contract
// to bounding-box candidates. Shared by both backends so the ordering rules
// live in one place.
func rankWithinRadius(center geo.Coordinate, radiusKm float64, candidates []model.StoreRecord) ([]Neighbor, error) {
	neighbors := make([]Neighbor, 0, len(candidates))
	for _, rec := range candidates {
		loc, err := rec.Location()
		if err != nil {
			return nil, err
		}
		d := center.DistanceTo(loc)
		if d <= radiusKm {
			neighbors = append(neighbors, Neighbor{Store: rec, DistanceKm: d})
		}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].DistanceKm != neighbors[j].DistanceKm {
			return neighbors[i].DistanceKm < neighbors[j].DistanceKm
		}
		return neighbors[i].Store.StoreID < neighbors[j].Store.StoreID
	})
	return neighbors, nil
}

// persistedAnalysis is the serialized form of a CompetitorAnalysis. Only
// competitor ids and distances are stored; records are rehydrated on read so
// an analysis never pins a stale copy of a store.
type persistedAnalysis struct {
	AnalysisID     string            `json:"analysis_id"`
	OwnStoreID     string            `json:"own_store_id"`
	SearchRadiusKm float64           `json:"search_radius_km"`
	Competitors    []persistedRanked `json:"competitors"`
}

type persistedRanked struct {
	StoreID    string  `json:"store_id"`
	DistanceKm float64 `json:"distance_km"`
}

func toPersisted(a *model.CompetitorAnalysis) persistedAnalysis {
	p := persistedAnalysis{
		AnalysisID:     a.AnalysisID,
		OwnStoreID:     a.OwnStore.StoreID,
		SearchRadiusKm: a.SearchRadiusKm,
		Competitors:    make([]persistedRanked, 0, len(a.Competitors)),
	}
	for _, c := range a.Competitors {
		p.Competitors = append(p.Competitors, persistedRanked{
			StoreID:    c.Store.StoreID,
			DistanceKm: c.DistanceKm,
		})
	}
	return p
}

// rehydrate reassembles a CompetitorAnalysis from its persisted form and a
// lookup of competitor records fetched from the registry.
func (p persistedAnalysis) rehydrate(own *model.StoreRecord, byID map[string]model.StoreRecord) *model.CompetitorAnalysis {
	analysis := &model.CompetitorAnalysis{
		AnalysisID:     p.AnalysisID,
		OwnStore:       *own,
		Competitors:    make([]model.CompetitorDistance, 0, len(p.Competitors)),
		SearchRadiusKm: p.SearchRadiusKm,
	}
	for _, ranked := range p.Competitors {
		rec, ok := byID[ranked.StoreID]
		if !ok {
			continue
		}
		analysis.Competitors = append(analysis.Competitors, model.CompetitorDistance{
			Store:      rec,
			DistanceKm: ranked.DistanceKm,
		})
	}
	return analysis
}
