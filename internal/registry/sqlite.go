package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/retailscope/proximity-cli/internal/geo"
	"github.com/retailscope/proximity-cli/internal/model"
)

// SQLiteRegistry implements Registry using modernc.org/sqlite. Meant for
// single-node deployments and tests; the schema mirrors the Postgres one
// without the schema prefix.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteRegistry, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteRegistry{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS store_ids (
	store_id TEXT PRIMARY KEY,
	side     TEXT NOT NULL CHECK (side IN ('own', 'competitor'))
);

CREATE TABLE IF NOT EXISTS own_stores (
	store_id        TEXT PRIMARY KEY REFERENCES store_ids(store_id),
	name            TEXT NOT NULL,
	chain           TEXT NOT NULL DEFAULT 'own',
	latitude        REAL NOT NULL CHECK (latitude BETWEEN -90 AND 90),
	longitude       REAL NOT NULL CHECK (longitude BETWEEN -180 AND 180),
	address         TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT '',
	postal_code     TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	manager_name    TEXT NOT NULL DEFAULT '',
	opening_hours   TEXT NOT NULL DEFAULT '',
	floor_area_sqft INTEGER NOT NULL DEFAULT 0,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	opened_at       DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS competitor_stores (
	store_id        TEXT PRIMARY KEY REFERENCES store_ids(store_id),
	name            TEXT NOT NULL,
	chain           TEXT NOT NULL,
	latitude        REAL NOT NULL CHECK (latitude BETWEEN -90 AND 90),
	longitude       REAL NOT NULL CHECK (longitude BETWEEN -180 AND 180),
	address         TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT '',
	postal_code     TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	manager_name    TEXT NOT NULL DEFAULT '',
	opening_hours   TEXT NOT NULL DEFAULT '',
	floor_area_sqft INTEGER NOT NULL DEFAULT 0,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	opened_at       DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_own_stores_city ON own_stores(city);
CREATE INDEX IF NOT EXISTS idx_own_stores_state ON own_stores(state);
CREATE INDEX IF NOT EXISTS idx_own_stores_lat_lon ON own_stores(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_competitor_stores_chain ON competitor_stores(chain);
CREATE INDEX IF NOT EXISTS idx_competitor_stores_lat_lon ON competitor_stores(latitude, longitude);

CREATE TABLE IF NOT EXISTS latest_analysis (
	own_store_id     TEXT PRIMARY KEY REFERENCES own_stores(store_id),
	analysis         TEXT NOT NULL,
	search_radius_km REAL NOT NULL,
	analyzed_at      DATETIME NOT NULL
);
`

// Migrate implements Registry.
func (s *SQLiteRegistry) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping implements Registry.
func (s *SQLiteRegistry) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapStorage(err, "ping")
	}
	return nil
}

// Close implements Registry.
func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}

func sqliteTable(side model.Partition) string {
	if side == model.PartitionOwn {
		return "own_stores"
	}
	return "competitor_stores"
}

// AddOwnStore implements Registry.
func (s *SQLiteRegistry) AddOwnStore(ctx context.Context, rec *model.StoreRecord) error {
	if rec.Chain != model.ChainOwn {
		return eris.Errorf("registry: store %s: own partition requires chain %q, got %q",
			rec.StoreID, model.ChainOwn, rec.Chain)
	}
	return s.addStore(ctx, rec, model.PartitionOwn)
}

// AddCompetitorStore implements Registry.
func (s *SQLiteRegistry) AddCompetitorStore(ctx context.Context, rec *model.StoreRecord) error {
	if !rec.Chain.IsCompetitor() {
		return eris.Errorf("registry: store %s: competitor partition rejects chain %q",
			rec.StoreID, model.ChainOwn)
	}
	return s.addStore(ctx, rec, model.PartitionCompetitor)
}

func (s *SQLiteRegistry) addStore(ctx context.Context, rec *model.StoreRecord, side model.Partition) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Touch(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage(err, "add store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_ids (store_id, side) VALUES (?, ?)`,
		rec.StoreID, string(side),
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return eris.Wrapf(ErrDuplicateStore, "registry: store id %s", rec.StoreID)
		}
		return wrapStorage(err, "add store: claim id")
	}

	var openedAt any
	if rec.OpenedAt != nil {
		openedAt = rec.OpenedAt.UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+sqliteTable(side)+` (`+storeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StoreID, rec.Name, string(rec.Chain), rec.Latitude, rec.Longitude,
		rec.Address, rec.City, rec.State, rec.PostalCode, rec.Phone, rec.Email,
		rec.ManagerName, rec.OpeningHours, rec.FloorAreaSqft, rec.IsActive,
		openedAt, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return wrapStorage(err, "add store: insert record")
	}

	if err := tx.Commit(); err != nil {
		return wrapStorage(err, "add store: commit")
	}
	return nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteStore(row sqlScanner) (*model.StoreRecord, error) {
	var rec model.StoreRecord
	var chain string
	var openedAt sql.NullTime
	err := row.Scan(
		&rec.StoreID, &rec.Name, &chain, &rec.Latitude, &rec.Longitude,
		&rec.Address, &rec.City, &rec.State, &rec.PostalCode, &rec.Phone, &rec.Email,
		&rec.ManagerName, &rec.OpeningHours, &rec.FloorAreaSqft,
		&rec.IsActive, &openedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Chain = model.Chain(chain)
	if openedAt.Valid {
		t := openedAt.Time
		rec.OpenedAt = &t
	}
	return &rec, nil
}

func (s *SQLiteRegistry) getFromTable(ctx context.Context, side model.Partition, storeID string) (*model.StoreRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM `+sqliteTable(side)+` WHERE store_id = ?`,
		storeID,
	)
	rec, err := scanSQLiteStore(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "registry: store %s", storeID)
		}
		return nil, wrapStorage(err, "get store")
	}
	return rec, nil
}

// GetStore implements Registry.
func (s *SQLiteRegistry) GetStore(ctx context.Context, storeID string) (*model.StoreRecord, model.Partition, error) {
	rec, err := s.getFromTable(ctx, model.PartitionOwn, storeID)
	if err == nil {
		return rec, model.PartitionOwn, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, "", err
	}
	rec, err = s.getFromTable(ctx, model.PartitionCompetitor, storeID)
	if err != nil {
		return nil, "", err
	}
	return rec, model.PartitionCompetitor, nil
}

// GetOwnStore implements Registry.
func (s *SQLiteRegistry) GetOwnStore(ctx context.Context, storeID string) (*model.StoreRecord, error) {
	return s.getFromTable(ctx, model.PartitionOwn, storeID)
}

func (s *SQLiteRegistry) queryStores(ctx context.Context, query string, args ...any) ([]model.StoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage(err, "query stores")
	}
	defer rows.Close()

	var records []model.StoreRecord
	for rows.Next() {
		rec, err := scanSQLiteStore(rows)
		if err != nil {
			return nil, wrapStorage(err, "scan store row")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage(err, "iterate store rows")
	}
	return records, nil
}

// ListOwnStores implements Registry.
func (s *SQLiteRegistry) ListOwnStores(ctx context.Context, activeOnly bool) ([]model.StoreRecord, error) {
	query := `SELECT ` + storeColumns + ` FROM own_stores`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY city, name`
	return s.queryStores(ctx, query)
}

// ListOwnStoresByCity implements Registry.
func (s *SQLiteRegistry) ListOwnStoresByCity(ctx context.Context, city string) ([]model.StoreRecord, error) {
	return s.queryStores(ctx,
		`SELECT `+storeColumns+` FROM own_stores WHERE city = ? ORDER BY name`,
		city,
	)
}

// ListOwnStoresByState implements Registry.
func (s *SQLiteRegistry) ListOwnStoresByState(ctx context.Context, state string) ([]model.StoreRecord, error) {
	return s.queryStores(ctx,
		`SELECT `+storeColumns+` FROM own_stores WHERE state = ? ORDER BY city, name`,
		state,
	)
}

// ListCompetitorStores implements Registry.
func (s *SQLiteRegistry) ListCompetitorStores(ctx context.Context, chain *model.Chain) ([]model.StoreRecord, error) {
	if chain != nil {
		return s.queryStores(ctx,
			`SELECT `+storeColumns+` FROM competitor_stores WHERE chain = ? ORDER BY city, name`,
			string(*chain),
		)
	}
	return s.queryStores(ctx,
		`SELECT ` + storeColumns + ` FROM competitor_stores ORDER BY city, name`,
	)
}

// FindWithinRadius implements Registry.
func (s *SQLiteRegistry) FindWithinRadius(ctx context.Context, center geo.Coordinate, radiusKm float64, pool model.Partition) ([]Neighbor, error) {
	if radiusKm < 0 {
		return nil, eris.Errorf("registry: negative radius %v", radiusKm)
	}
	if !pool.Valid() {
		return nil, eris.Errorf("registry: unknown partition %q", pool)
	}

	box := center.BoundingBox(radiusKm)
	query := `SELECT ` + storeColumns + ` FROM ` + sqliteTable(pool) +
		` WHERE is_active AND latitude BETWEEN ? AND ?`
	args := []any{box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}
	if box.CrossesAntimeridian() {
		query += ` AND (longitude >= ? OR longitude <= ?)`
	} else {
		query += ` AND longitude BETWEEN ? AND ?`
	}

	candidates, err := s.queryStores(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rankWithinRadius(center, radiusKm, candidates)
}

// DeactivateStore implements Registry.
func (s *SQLiteRegistry) DeactivateStore(ctx context.Context, storeID string) error {
	var side string
	err := s.db.QueryRowContext(ctx,
		`SELECT side FROM store_ids WHERE store_id = ?`, storeID,
	).Scan(&side)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "registry: store %s", storeID)
		}
		return wrapStorage(err, "deactivate: lookup side")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE `+sqliteTable(model.Partition(side))+` SET is_active = FALSE, updated_at = ? WHERE store_id = ?`,
		time.Now().UTC(), storeID,
	)
	if err != nil {
		return wrapStorage(err, "deactivate: update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorage(err, "deactivate: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "registry: store %s", storeID)
	}
	return nil
}

// SaveAnalysis implements Registry.
func (s *SQLiteRegistry) SaveAnalysis(ctx context.Context, analysis *model.CompetitorAnalysis) error {
	if analysis == nil || analysis.OwnStore.StoreID == "" {
		return eris.New("registry: analysis missing own store id")
	}

	payload, err := json.Marshal(toPersisted(analysis))
	if err != nil {
		return eris.Wrap(err, "registry: marshal analysis")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO latest_analysis (own_store_id, analysis, search_radius_km, analyzed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (own_store_id) DO UPDATE SET
			analysis = excluded.analysis,
			search_radius_km = excluded.search_radius_km,
			analyzed_at = excluded.analyzed_at`,
		analysis.OwnStore.StoreID, string(payload), analysis.SearchRadiusKm, analysis.AnalyzedAt.UTC(),
	)
	if err != nil {
		return wrapStorage(err, "save analysis")
	}
	return nil
}

// GetAnalysis implements Registry.
func (s *SQLiteRegistry) GetAnalysis(ctx context.Context, ownStoreID string) (*model.CompetitorAnalysis, error) {
	var payload string
	var radius float64
	var analyzedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT analysis, search_radius_km, analyzed_at FROM latest_analysis WHERE own_store_id = ?`,
		ownStoreID,
	).Scan(&payload, &radius, &analyzedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "registry: analysis for %s", ownStoreID)
		}
		return nil, wrapStorage(err, "get analysis")
	}

	var persisted persistedAnalysis
	if err := json.Unmarshal([]byte(payload), &persisted); err != nil {
		return nil, eris.Wrapf(err, "registry: unmarshal analysis for %s", ownStoreID)
	}

	own, err := s.GetOwnStore(ctx, ownStoreID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.StoreRecord, len(persisted.Competitors))
	if len(persisted.Competitors) > 0 {
		placeholders := make([]string, len(persisted.Competitors))
		ids := make([]any, len(persisted.Competitors))
		for i, c := range persisted.Competitors {
			placeholders[i] = "?"
			ids[i] = c.StoreID
		}
		records, err := s.queryStores(ctx,
			`SELECT `+storeColumns+` FROM competitor_stores WHERE store_id IN (`+strings.Join(placeholders, ", ")+`)`,
			ids...,
		)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			byID[rec.StoreID] = rec
		}
	}

	analysis := persisted.rehydrate(own, byID)
	analysis.SearchRadiusKm = radius
	analysis.AnalyzedAt = analyzedAt
	return analysis, nil
}
