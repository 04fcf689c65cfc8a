package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAnalysis() CompetitorAnalysis {
	return CompetitorAnalysis{
		OwnStore: StoreRecord{StoreID: "own-001", Name: "Connaught Place", Chain: ChainOwn},
		Competitors: []CompetitorDistance{
			{Store: StoreRecord{StoreID: "cmp-001", Chain: ChainDMart}, DistanceKm: 0.7},
			{Store: StoreRecord{StoreID: "cmp-002", Chain: ChainRelianceFresh}, DistanceKm: 1.2},
			{Store: StoreRecord{StoreID: "cmp-003", Chain: ChainDMart}, DistanceKm: 3.4},
		},
		SearchRadiusKm: 5.0,
		AnalyzedAt:     time.Now().UTC(),
	}
}

func TestCount(t *testing.T) {
	a := sampleAnalysis()
	assert.Equal(t, 3, a.Count())
}

func TestClosestCompetitor(t *testing.T) {
	a := sampleAnalysis()
	closest := a.ClosestCompetitor()
	require.NotNil(t, closest)
	assert.Equal(t, "cmp-001", closest.StoreID)

	empty := CompetitorAnalysis{OwnStore: a.OwnStore, SearchRadiusKm: 5.0}
	assert.Nil(t, empty.ClosestCompetitor())
}

func TestGroupByChain(t *testing.T) {
	a := sampleAnalysis()
	grouped := a.GroupByChain()
	require.Len(t, grouped[ChainDMart], 2)
	// Distance order is preserved within a bucket.
	assert.Equal(t, "cmp-001", grouped[ChainDMart][0].StoreID)
	assert.Equal(t, "cmp-003", grouped[ChainDMart][1].StoreID)
	assert.Len(t, grouped[ChainRelianceFresh], 1)
}

func TestCountByChain(t *testing.T) {
	a := sampleAnalysis()
	counts := a.CountByChain()
	assert.Equal(t, 2, counts[ChainDMart])
	assert.Equal(t, 1, counts[ChainRelianceFresh])
	assert.Equal(t, 0, counts[ChainBigBazaar])
}
