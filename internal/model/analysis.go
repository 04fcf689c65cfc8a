package model

import "time"

// CompetitorDistance pairs a competitor record with its great-circle
// distance from the own store under analysis.
type CompetitorDistance struct {
	Store      StoreRecord `json:"store"`
	DistanceKm float64     `json:"distance_km"`
}

// CompetitorAnalysis is the result of one radius search for one own store.
// Competitors are ordered by ascending distance; every entry satisfies
// DistanceKm <= SearchRadiusKm. A new analysis fully replaces any prior one
// for the same own store.
type CompetitorAnalysis struct {
	AnalysisID     string               `json:"analysis_id"`
	OwnStore       StoreRecord          `json:"own_store"`
	Competitors    []CompetitorDistance `json:"competitors"`
	SearchRadiusKm float64              `json:"search_radius_km"`
	AnalyzedAt     time.Time            `json:"analyzed_at"`
}

// Count returns the number of competitors within the search radius.
func (a *CompetitorAnalysis) Count() int { return len(a.Competitors) }

// ClosestCompetitor returns the nearest competitor, or nil when the radius
// holds none. Competitors are pre-sorted, so this is the first entry.
func (a *CompetitorAnalysis) ClosestCompetitor() *StoreRecord {
	if len(a.Competitors) == 0 {
		return nil
	}
	return &a.Competitors[0].Store
}

// GroupByChain buckets competitors by chain, preserving distance order
// within each bucket.
func (a *CompetitorAnalysis) GroupByChain() map[Chain][]StoreRecord {
	grouped := make(map[Chain][]StoreRecord)
	for _, c := range a.Competitors {
		grouped[c.Store.Chain] = append(grouped[c.Store.Chain], c.Store)
	}
	return grouped
}

// CountByChain returns the number of competitors per chain.
func (a *CompetitorAnalysis) CountByChain() map[Chain]int {
	counts := make(map[Chain]int)
	for _, c := range a.Competitors {
		counts[c.Store.Chain]++
	}
	return counts
}
