package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailscope/proximity-cli/internal/geo"
	"github.com/retailscope/proximity-cli/internal/model"
)

var storeColumnNames = []string{
	"store_id", "name", "chain", "latitude", "longitude", "address", "city", "state",
	"postal_code", "phone", "email", "manager_name", "opening_hours", "floor_area_sqft",
	"is_active", "opened_at", "created_at", "updated_at",
}

func ownRecord(id string) *model.StoreRecord {
	return &model.StoreRecord{
		StoreID:   id,
		Name:      "Connaught Place",
		Chain:     model.ChainOwn,
		Latitude:  28.6139,
		Longitude: 77.2090,
		City:      "New Delhi",
		State:     "Delhi",
		IsActive:  true,
	}
}

func competitorRecord(id string, chain model.Chain, lat, lon float64) *model.StoreRecord {
	return &model.StoreRecord{
		StoreID:   id,
		Name:      "Competitor " + id,
		Chain:     chain,
		Latitude:  lat,
		Longitude: lon,
		City:      "New Delhi",
		State:     "Delhi",
		IsActive:  true,
	}
}

func storeRow(rec *model.StoreRecord, now time.Time) []any {
	return []any{
		rec.StoreID, rec.Name, string(rec.Chain), rec.Latitude, rec.Longitude,
		rec.Address, rec.City, rec.State, rec.PostalCode, rec.Phone, rec.Email,
		rec.ManagerName, rec.OpeningHours, rec.FloorAreaSqft,
		rec.IsActive, rec.OpenedAt, now, now,
	}
}

func TestAddOwnStore_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	rec := ownRecord("own-001")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stores.store_ids").
		WithArgs("own-001", "own").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO stores.own_stores").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = reg.AddOwnStore(context.Background(), rec)
	assert.NoError(t, err)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOwnStore_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stores.store_ids").
		WithArgs("own-001", "own").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err = reg.AddOwnStore(context.Background(), ownRecord("own-001"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateStore))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOwnStore_RejectsCompetitorChain(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	rec := ownRecord("own-001")
	rec.Chain = model.ChainDMart

	err = reg.AddOwnStore(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "own partition requires chain")
}

func TestAddCompetitorStore_RejectsOwnChain(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	rec := ownRecord("own-001")

	err = reg.AddCompetitorStore(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "competitor partition rejects")
}

func TestAddOwnStore_InvalidCoordinates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	rec := ownRecord("own-001")
	rec.Latitude = 91.0

	err = reg.AddOwnStore(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, geo.ErrInvalidCoordinate))
}

func TestGetOwnStore_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	mock.ExpectQuery("SELECT .+ FROM stores.own_stores WHERE store_id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(storeColumnNames))

	_, err = reg.GetOwnStore(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStore_FallsThroughToCompetitors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	now := time.Now().UTC()
	cmp := competitorRecord("cmp-001", model.ChainDMart, 28.62, 77.21)

	mock.ExpectQuery("SELECT .+ FROM stores.own_stores WHERE store_id").
		WithArgs("cmp-001").
		WillReturnRows(pgxmock.NewRows(storeColumnNames))
	mock.ExpectQuery("SELECT .+ FROM stores.competitor_stores WHERE store_id").
		WithArgs("cmp-001").
		WillReturnRows(pgxmock.NewRows(storeColumnNames).AddRow(storeRow(cmp, now)...))

	rec, side, err := reg.GetStore(context.Background(), "cmp-001")
	require.NoError(t, err)
	assert.Equal(t, model.PartitionCompetitor, side)
	assert.Equal(t, model.ChainDMart, rec.Chain)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCompetitorStores_ChainFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	now := time.Now().UTC()
	cmp := competitorRecord("cmp-001", model.ChainDMart, 28.62, 77.21)

	mock.ExpectQuery("SELECT .+ FROM stores.competitor_stores WHERE chain").
		WithArgs("dmart").
		WillReturnRows(pgxmock.NewRows(storeColumnNames).AddRow(storeRow(cmp, now)...))

	chain := model.ChainDMart
	records, err := reg.ListCompetitorStores(context.Background(), &chain)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cmp-001", records[0].StoreID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindWithinRadius_OrdersByDistance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	now := time.Now().UTC()
	center, err := geo.New(28.6139, 77.2090)
	require.NoError(t, err)

	// The bounding box admits all three candidates; the exact haversine
	// filter must drop the distant one and order the rest ascending.
	near := competitorRecord("cmp-near", model.ChainDMart, 28.6200, 77.2100)
	mid := competitorRecord("cmp-mid", model.ChainRelianceFresh, 28.6400, 77.2300)
	far := competitorRecord("cmp-far", model.ChainBigBazaar, 28.7000, 77.3000)

	mock.ExpectQuery("SELECT .+ FROM stores.competitor_stores WHERE is_active").
		WillReturnRows(pgxmock.NewRows(storeColumnNames).
			AddRow(storeRow(far, now)...).
			AddRow(storeRow(mid, now)...).
			AddRow(storeRow(near, now)...))

	neighbors, err := reg.FindWithinRadius(context.Background(), center, 5.0, model.PartitionCompetitor)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "cmp-near", neighbors[0].Store.StoreID)
	assert.Equal(t, "cmp-mid", neighbors[1].Store.StoreID)
	assert.Less(t, neighbors[0].DistanceKm, neighbors[1].DistanceKm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindWithinRadius_NegativeRadius(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	center, err := geo.New(28.6139, 77.2090)
	require.NoError(t, err)

	_, err = reg.FindWithinRadius(context.Background(), center, -1.0, model.PartitionCompetitor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative radius")
}

func TestDeactivateStore_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	mock.ExpectQuery("SELECT side FROM stores.store_ids").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"side"}))

	err = reg.DeactivateStore(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeactivateStore_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	mock.ExpectQuery("SELECT side FROM stores.store_ids").
		WithArgs("own-001").
		WillReturnRows(pgxmock.NewRows([]string{"side"}).AddRow("own"))
	mock.ExpectExec("UPDATE stores.own_stores SET is_active").
		WithArgs("own-001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = reg.DeactivateStore(context.Background(), "own-001")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnalysis_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	analysis := &model.CompetitorAnalysis{
		OwnStore: *ownRecord("own-001"),
		Competitors: []model.CompetitorDistance{
			{Store: *competitorRecord("cmp-001", model.ChainDMart, 28.62, 77.21), DistanceKm: 0.69},
		},
		SearchRadiusKm: 5.0,
		AnalyzedAt:     time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO stores.latest_analysis").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = reg.SaveAnalysis(context.Background(), analysis)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnalysis_MissingOwnStoreID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	err = reg.SaveAnalysis(context.Background(), &model.CompetitorAnalysis{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing own store id")
}

func TestGetAnalysis_DropsDeletedCompetitors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	now := time.Now().UTC()
	own := ownRecord("own-001")
	kept := competitorRecord("cmp-kept", model.ChainDMart, 28.62, 77.21)

	payload, err := json.Marshal(persistedAnalysis{
		OwnStoreID:     "own-001",
		SearchRadiusKm: 5.0,
		Competitors: []persistedRanked{
			{StoreID: "cmp-kept", DistanceKm: 0.69},
			{StoreID: "cmp-deleted", DistanceKm: 1.40},
		},
	})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT analysis, search_radius_km, analyzed_at FROM stores.latest_analysis").
		WithArgs("own-001").
		WillReturnRows(pgxmock.NewRows([]string{"analysis", "search_radius_km", "analyzed_at"}).
			AddRow(payload, 5.0, now))
	mock.ExpectQuery("SELECT .+ FROM stores.own_stores WHERE store_id").
		WithArgs("own-001").
		WillReturnRows(pgxmock.NewRows(storeColumnNames).AddRow(storeRow(own, now)...))
	// Only the surviving competitor comes back from the rehydration query.
	mock.ExpectQuery("SELECT .+ FROM stores.competitor_stores WHERE store_id").
		WillReturnRows(pgxmock.NewRows(storeColumnNames).AddRow(storeRow(kept, now)...))

	analysis, err := reg.GetAnalysis(context.Background(), "own-001")
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.Count())
	assert.Equal(t, "cmp-kept", analysis.Competitors[0].Store.StoreID)
	assert.Equal(t, 5.0, analysis.SearchRadiusKm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAnalysis_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	mock.ExpectQuery("SELECT analysis, search_radius_km, analyzed_at FROM stores.latest_analysis").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"analysis", "search_radius_km", "analyzed_at"}))

	_, err = reg.GetAnalysis(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListOwnStores_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := NewPostgresWithPool(mock)
	mock.ExpectQuery("SELECT .+ FROM stores.own_stores").
		WillReturnError(fmt.Errorf("connection lost"))

	_, err = reg.ListOwnStores(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
}
