package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/retailscope/proximity-cli/internal/db"
	"github.com/retailscope/proximity-cli/internal/geo"
	"github.com/retailscope/proximity-cli/internal/model"
)

// PostgresRegistry implements Registry using a pgx connection pool.
type PostgresRegistry struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresRegistry with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresRegistry, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresRegistry{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests (pgxmock) and by
// callers that manage pool lifecycle themselves.
func NewPostgresWithPool(pool db.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

const storeColumns = `store_id, name, chain, latitude, longitude, address, city, state,
	       postal_code, phone, email, manager_name, opening_hours, floor_area_sqft,
	       is_active, opened_at, created_at, updated_at`

func storeTable(side model.Partition) string {
	if side == model.PartitionOwn {
		return "stores.own_stores"
	}
	return "stores.competitor_stores"
}

// wrapStorage folds a backend I/O failure into ErrStorageUnavailable while
// keeping the operation and cause in the message.
func wrapStorage(err error, op string) error {
	return eris.Wrapf(ErrStorageUnavailable, "registry: %s: %v", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AddOwnStore implements Registry.
func (r *PostgresRegistry) AddOwnStore(ctx context.Context, rec *model.StoreRecord) error {
	if rec.Chain != model.ChainOwn {
		return eris.Errorf("registry: store %s: own partition requires chain %q, got %q",
			rec.StoreID, model.ChainOwn, rec.Chain)
	}
	return r.addStore(ctx, rec, model.PartitionOwn)
}

// AddCompetitorStore implements Registry.
func (r *PostgresRegistry) AddCompetitorStore(ctx context.Context, rec *model.StoreRecord) error {
	if !rec.Chain.IsCompetitor() {
		return eris.Errorf("registry: store %s: competitor partition rejects chain %q",
			rec.StoreID, model.ChainOwn)
	}
	return r.addStore(ctx, rec, model.PartitionCompetitor)
}

func (r *PostgresRegistry) addStore(ctx context.Context, rec *model.StoreRecord, side model.Partition) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Touch(now)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapStorage(err, "add store: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The ledger insert is the single uniqueness gate across both partitions.
	if _, err := tx.Exec(ctx,
		`INSERT INTO stores.store_ids (store_id, side) VALUES ($1, $2)`,
		rec.StoreID, string(side),
	); err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicateStore, "registry: store id %s", rec.StoreID)
		}
		return wrapStorage(err, "add store: claim id")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+storeTable(side)+` (`+storeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.StoreID, rec.Name, string(rec.Chain), rec.Latitude, rec.Longitude,
		rec.Address, rec.City, rec.State, rec.PostalCode, rec.Phone, rec.Email,
		rec.ManagerName, rec.OpeningHours, rec.FloorAreaSqft, rec.IsActive,
		rec.OpenedAt, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return wrapStorage(err, "add store: insert record")
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapStorage(err, "add store: commit")
	}
	return nil
}

type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanStore(row pgRowScanner) (*model.StoreRecord, error) {
	var rec model.StoreRecord
	var chain string
	err := row.Scan(
		&rec.StoreID, &rec.Name, &chain, &rec.Latitude, &rec.Longitude,
		&rec.Address, &rec.City, &rec.State, &rec.PostalCode, &rec.Phone, &rec.Email,
		&rec.ManagerName, &rec.OpeningHours, &rec.FloorAreaSqft,
		&rec.IsActive, &rec.OpenedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Chain = model.Chain(chain)
	return &rec, nil
}

func (r *PostgresRegistry) getFromTable(ctx context.Context, side model.Partition, storeID string) (*model.StoreRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+storeColumns+` FROM `+storeTable(side)+` WHERE store_id = $1`,
		storeID,
	)
	rec, err := scanStore(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "registry: store %s", storeID)
		}
		return nil, wrapStorage(err, "get store")
	}
	return rec, nil
}

// GetStore implements Registry.
func (r *PostgresRegistry) GetStore(ctx context.Context, storeID string) (*model.StoreRecord, model.Partition, error) {
	rec, err := r.getFromTable(ctx, model.PartitionOwn, storeID)
	if err == nil {
		return rec, model.PartitionOwn, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	rec, err = r.getFromTable(ctx, model.PartitionCompetitor, storeID)
	if err != nil {
		return nil, "", err
	}
	return rec, model.PartitionCompetitor, nil
}

// GetOwnStore implements Registry.
func (r *PostgresRegistry) GetOwnStore(ctx context.Context, storeID string) (*model.StoreRecord, error) {
	return r.getFromTable(ctx, model.PartitionOwn, storeID)
}

func (r *PostgresRegistry) queryStores(ctx context.Context, query string, args ...any) ([]model.StoreRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage(err, "query stores")
	}
	defer rows.Close()

	var records []model.StoreRecord
	for rows.Next() {
		rec, err := scanStore(rows)
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
func (r *PostgresRegistry) ListOwnStores(ctx context.Context, activeOnly bool) ([]model.StoreRecord, error) {
	query := `SELECT ` + storeColumns + ` FROM stores.own_stores`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY city, name`
	return r.queryStores(ctx, query)
}

// ListOwnStoresByCity implements Registry.
func (r *PostgresRegistry) ListOwnStoresByCity(ctx context.Context, city string) ([]model.StoreRecord, error) {
	return r.queryStores(ctx,
		`SELECT `+storeColumns+` FROM stores.own_stores WHERE city = $1 ORDER BY name`,
		city,
	)
}

// ListOwnStoresByState implements Registry.
func (r *PostgresRegistry) ListOwnStoresByState(ctx context.Context, state string) ([]model.StoreRecord, error) {
	return r.queryStores(ctx,
		`SELECT `+storeColumns+` FROM stores.own_stores WHERE state = $1 ORDER BY city, name`,
		state,
	)
}

// ListCompetitorStores implements Registry.
func (r *PostgresRegistry) ListCompetitorStores(ctx context.Context, chain *model.Chain) ([]model.StoreRecord, error) {
	if chain != nil {
		return r.queryStores(ctx,
			`SELECT `+storeColumns+` FROM stores.competitor_stores WHERE chain = $1 ORDER BY city, name`,
			string(*chain),
		)
	}
	return r.queryStores(ctx,
		`SELECT ` + storeColumns + ` FROM stores.competitor_stores ORDER BY city, name`,
	)
}

// FindWithinRadius implements Registry.
func (r *PostgresRegistry) FindWithinRadius(ctx context.Context, center geo.Coordinate, radiusKm float64, pool model.Partition) ([]Neighbor, error) {
	if radiusKm < 0 {
		return nil, eris.Errorf("registry: negative radius %v", radiusKm)
	}
	if !pool.Valid() {
		return nil, eris.Errorf("registry: unknown partition %q", pool)
	}

	box := center.BoundingBox(radiusKm)
	query := `SELECT ` + storeColumns + ` FROM ` + storeTable(pool) +
		` WHERE is_active AND latitude BETWEEN $1 AND $2`
	args := []any{box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}
	if box.CrossesAntimeridian() {
		query += ` AND (longitude >= $3 OR longitude <= $4)`
	} else {
		query += ` AND longitude BETWEEN $3 AND $4`
	}

	candidates, err := r.queryStores(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rankWithinRadius(center, radiusKm, candidates)
}

// DeactivateStore implements Registry.
func (r *PostgresRegistry) DeactivateStore(ctx context.Context, storeID string) error {
	var side string
	err := r.pool.QueryRow(ctx,
		`SELECT side FROM stores.store_ids WHERE store_id = $1`, storeID,
	).Scan(&side)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "registry: store %s", storeID)
		}
		return wrapStorage(err, "deactivate: lookup side")
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE `+storeTable(model.Partition(side))+` SET is_active = FALSE, updated_at = now() WHERE store_id = $1`,
		storeID,
	)
	if err != nil {
		return wrapStorage(err, "deactivate: update")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "registry: store %s", storeID)
	}
	return nil
}

// SaveAnalysis implements Registry. The single-statement upsert makes the
// replace atomic with respect to concurrent GetAnalysis readers.
func (r *PostgresRegistry) SaveAnalysis(ctx context.Context, analysis *model.CompetitorAnalysis) error {
	if analysis == nil || analysis.OwnStore.StoreID == "" {
		return eris.New("registry: analysis missing own store id")
	}

	payload, err := json.Marshal(toPersisted(analysis))
	if err != nil {
		return eris.Wrap(err, "registry: marshal analysis")
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO stores.latest_analysis (own_store_id, analysis, search_radius_km, analyzed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (own_store_id) DO UPDATE SET
			analysis = EXCLUDED.analysis,
			search_radius_km = EXCLUDED.search_radius_km,
			analyzed_at = EXCLUDED.analyzed_at`,
		analysis.OwnStore.StoreID, payload, analysis.SearchRadiusKm, analysis.AnalyzedAt.UTC(),
	)
	if err != nil {
		return wrapStorage(err, "save analysis")
	}
	return nil
}

// GetAnalysis implements Registry.
func (r *PostgresRegistry) GetAnalysis(ctx context.Context, ownStoreID string) (*model.CompetitorAnalysis, error) {
	var payload []byte
	var radius float64
	var analyzedAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT analysis, search_radius_km, analyzed_at FROM stores.latest_analysis WHERE own_store_id = $1`,
		ownStoreID,
	).Scan(&payload, &radius, &analyzedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "registry: analysis for %s", ownStoreID)
		}
		return nil, wrapStorage(err, "get analysis")
	}

	var persisted persistedAnalysis
	if err := json.Unmarshal(payload, &persisted); err != nil {
		return nil, eris.Wrapf(err, "registry: unmarshal analysis for %s", ownStoreID)
	}

	own, err := r.GetOwnStore(ctx, ownStoreID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.StoreRecord, len(persisted.Competitors))
	if len(persisted.Competitors) > 0 {
		ids := make([]string, 0, len(persisted.Competitors))
		for _, c := range persisted.Competitors {
			ids = append(ids, c.StoreID)
		}
		records, err := r.queryStores(ctx,
			`SELECT `+storeColumns+` FROM stores.competitor_stores WHERE store_id = ANY($1)`,
			ids,
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

// Ping implements Registry.
func (r *PostgresRegistry) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return wrapStorage(err, "ping")
	}
	return nil
}

// Close implements Registry.
func (r *PostgresRegistry) Close() error {
	if r.closeFn != nil {
		r.closeFn()
	}
	return nil
}
