// Package importer loads store rosters from CSV and XLSX files into the
// registry. Rows missing coordinates are geocoded from their address; rows
// that fail validation, geocoding, or insertion are collected as failures and
// never abort the run.
package importer

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/retailscope/proximity-cli/internal/fetcher"
	"github.com/retailscope/proximity-cli/internal/model"
	"github.com/retailscope/proximity-cli/internal/registry"
	"github.com/retailscope/proximity-cli/pkg/geocode"
)

// RowFailure records why one roster row was not imported.
type RowFailure struct {
	Row     int    `json:"row"`
	StoreID string `json:"store_id,omitempty"`
	Err     error  `json:"-"`
	Reason  string `json:"reason"`
}

// Result summarizes an import run.
type Result struct {
	Imported int          `json:"imported"`
	Failed   []RowFailure `json:"failed,omitempty"`
}

// Importer streams roster rows into a registry partition.
type Importer struct {
	reg      registry.Registry
	geocoder geocode.Client
}

// New creates an Importer. The geocoder may be nil, in which case rows
// without coordinates fail instead of being geocoded.
func New(reg registry.Registry, geocoder geocode.Client) *Importer {
	return &Importer{reg: reg, geocoder: geocoder}
}

// ImportCSV imports a CSV roster into the given partition. The first row
// must be a header naming the columns.
func (imp *Importer) ImportCSV(ctx context.Context, r io.Reader, kind model.Partition) (*Result, error) {
	// The producer goroutine blocks on the row channel once its buffer
	// fills; cancelling on return unblocks it when consume bails early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})
	return imp.consume(ctx, headerCh, rowCh, errCh, kind)
}

// ImportXLSX imports the first sheet of an XLSX roster into the given
// partition. The first row must be a header naming the columns.
func (imp *Importer) ImportXLSX(ctx context.Context, path string, kind model.Partition) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	return imp.consume(ctx, headerCh, rowCh, errCh, kind)
}

func (imp *Importer) consume(ctx context.Context, headerCh <-chan []string, rowCh <-chan fetcher.Row, errCh <-chan error, kind model.Partition) (*Result, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("importer: unknown partition %q", kind)
	}

	log := zap.L().With(zap.String("component", "importer"))

	var columns map[string]int
	result := &Result{}

	for row := range rowCh {
		if columns == nil {
			select {
			case header := <-headerCh:
				cols, err := mapHeader(header)
				if err != nil {
					return nil, err
				}
				columns = cols
			default:
				return nil, eris.New("importer: roster has no header row")
			}
		}

		rec, err := imp.buildRecord(ctx, columns, row, kind)
		if err != nil {
			result.Failed = append(result.Failed, newFailure(row, rec, err))
			continue
		}

		switch kind {
		case model.PartitionOwn:
			err = imp.reg.AddOwnStore(ctx, rec)
		case model.PartitionCompetitor:
			err = imp.reg.AddCompetitorStore(ctx, rec)
		}
		if err != nil {
			log.Warn("row import failed",
				zap.Int("row", row.Number),
				zap.String("store_id", rec.StoreID),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, newFailure(row, rec, err))
			continue
		}
		result.Imported++
	}

	if err := <-errCh; err != nil {
		return result, err
	}

	log.Info("import finished",
		zap.String("partition", string(kind)),
		zap.Int("imported", result.Imported),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func newFailure(row fetcher.Row, rec *model.StoreRecord, err error) RowFailure {
	f := RowFailure{Row: row.Number, Err: err, Reason: err.Error()}
	if rec != nil {
		f.StoreID = rec.StoreID
	}
	return f
}

// Recognized roster columns. Header names are matched case-insensitively
// with spaces and hyphens folded to underscores.
var knownColumns = map[string]bool{
	"store_id": true, "name": true, "chain": true,
	"latitude": true, "longitude": true,
	"address": true, "city": true, "state": true, "postal_code": true,
	"phone": true, "email": true, "manager_name": true,
	"opening_hours": true, "floor_area_sqft": true, "opened_at": true,
}

func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		key = strings.ReplaceAll(key, "-", "_")
		if knownColumns[key] {
			columns[key] = i
		}
	}
	if _, ok := columns["store_id"]; !ok {
		return nil, eris.New("importer: header missing store_id column")
	}
	if _, ok := columns["name"]; !ok {
		return nil, eris.New("importer: header missing name column")
	}
	return columns, nil
}

func field(columns map[string]int, row fetcher.Row, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(row.Fields) {
		return ""
	}
	return strings.TrimSpace(row.Fields[idx])
}

func (imp *Importer) buildRecord(ctx context.Context, columns map[string]int, row fetcher.Row, kind model.Partition) (*model.StoreRecord, error) {
	rec := &model.StoreRecord{
		StoreID:      field(columns, row, "store_id"),
		Name:         field(columns, row, "name"),
		Address:      field(columns, row, "address"),
		City:         field(columns, row, "city"),
		State:        field(columns, row, "state"),
		PostalCode:   field(columns, row, "postal_code"),
		Phone:        field(columns, row, "phone"),
		Email:        field(columns, row, "email"),
		ManagerName:  field(columns, row, "manager_name"),
		OpeningHours: field(columns, row, "opening_hours"),
		IsActive:     true,
	}

	if kind == model.PartitionOwn {
		rec.Chain = model.ChainOwn
	} else {
		rec.Chain = model.ParseChain(field(columns, row, "chain"))
	}

	if raw := field(columns, row, "floor_area_sqft"); raw != "" {
		area, err := strconv.Atoi(raw)
		if err != nil {
			return rec, eris.Wrapf(err, "importer: row %d: floor_area_sqft %q", row.Number, raw)
		}
		rec.FloorAreaSqft = area
	}

	if raw := field(columns, row, "opened_at"); raw != "" {
		opened, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return rec, eris.Wrapf(err, "importer: row %d: opened_at %q", row.Number, raw)
		}
		rec.OpenedAt = &opened
	}

	latRaw := field(columns, row, "latitude")
	lonRaw := field(columns, row, "longitude")
	switch {
	case latRaw != "" && lonRaw != "":
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return rec, eris.Wrapf(err, "importer: row %d: latitude %q", row.Number, latRaw)
		}
		lon, err := strconv.ParseFloat(lonRaw, 64)
		if err != nil {
			return rec, eris.Wrapf(err, "importer: row %d: longitude %q", row.Number, lonRaw)
		}
		rec.Latitude, rec.Longitude = lat, lon
	case rec.Address != "":
		if err := imp.geocodeRecord(ctx, rec, row.Number); err != nil {
			return rec, err
		}
	default:
		return rec, eris.Errorf("importer: row %d: no coordinates and no address", row.Number)
	}

	return rec, nil
}

func (imp *Importer) geocodeRecord(ctx context.Context, rec *model.StoreRecord, rowNum int) error {
	if imp.geocoder == nil {
		return eris.Errorf("importer: row %d: coordinates missing and no geocoder configured", rowNum)
	}

	result, err := imp.geocoder.Geocode(ctx, geocode.AddressInput{
		ID:         rec.StoreID,
		Street:     rec.Address,
		City:       rec.City,
		State:      rec.State,
		PostalCode: rec.PostalCode,
	})
	if err != nil {
		return eris.Wrapf(err, "importer: row %d: geocode", rowNum)
	}
	if !result.Matched {
		return eris.Errorf("importer: row %d: address did not geocode", rowNum)
	}
	rec.Latitude = result.Latitude
	rec.Longitude = result.Longitude
	return nil
}
