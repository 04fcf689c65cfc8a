// Package model defines the store registry data model: located store records,
// chain classification, and persisted competitor analyses.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/retailscope/proximity-cli/internal/geo"
)

// Partition identifies which side of the registry a record lives in.
type Partition string

const (
	PartitionOwn        Partition = "own"
	PartitionCompetitor Partition = "competitor"
)

// Valid reports whether p is a known partition.
func (p Partition) Valid() bool {
	return p == PartitionOwn || p == PartitionCompetitor
}

// Chain classifies a store by retail chain. ChainOwn marks the operator's
// own brand; every other value is a competitor chain.
type Chain string

const (
	ChainOwn           Chain = "own"
	ChainRelianceFresh Chain = "reliance_fresh"
	ChainBigBazaar     Chain = "big_bazaar"
	ChainDMart         Chain = "dmart"
	ChainMore          Chain = "more"
	ChainSpencers      Chain = "spencers"
	ChainVishalMega    Chain = "vishal_mega_mart"
	ChainOther         Chain = "other"
)

// CompetitorChains lists the recognized competitor chains, ChainOther last.
var CompetitorChains = []Chain{
	ChainRelianceFresh,
	ChainBigBazaar,
	ChainDMart,
	ChainMore,
	ChainSpencers,
	ChainVishalMega,
	ChainOther,
}

// ParseChain maps a free-text chain label onto a Chain tag.
// Unrecognized competitor labels fold into ChainOther.
func ParseChain(s string) Chain {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(norm)
	switch Chain(norm) {
	case ChainOwn, ChainRelianceFresh, ChainBigBazaar, ChainDMart,
		ChainMore, ChainSpencers, ChainVishalMega:
		return Chain(norm)
	default:
		return ChainOther
	}
}

// IsCompetitor reports whether the chain is a competitor brand.
func (c Chain) IsCompetitor() bool { return c != ChainOwn }

// StoreRecord is a located business entity, own-brand or competitor.
type StoreRecord struct {
	StoreID       string     `json:"store_id"`
	Name          string     `json:"name"`
	Chain         Chain      `json:"chain"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Address       string     `json:"address,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state,omitempty"`
	PostalCode    string     `json:"postal_code,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Email         string     `json:"email,omitempty"`
	ManagerName   string     `json:"manager_name,omitempty"`
	OpeningHours  string     `json:"opening_hours,omitempty"`
	FloorAreaSqft int        `json:"floor_area_sqft,omitempty"`
	IsActive      bool       `json:"is_active"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks identity fields and coordinate bounds. Coordinate failures
// wrap geo.ErrInvalidCoordinate so callers can distinguish them.
func (r *StoreRecord) Validate() error {
	if strings.TrimSpace(r.StoreID) == "" {
		return eris.New("model: store_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return eris.Errorf("model: store %s: name is required", r.StoreID)
	}
	if _, err := geo.New(r.Latitude, r.Longitude); err != nil {
		return eris.Wrapf(err, "model: store %s", r.StoreID)
	}
	return nil
}

// Location returns the record's coordinate. The record must be valid.
func (r *StoreRecord) Location() (geo.Coordinate, error) {
	c, err := geo.New(r.Latitude, r.Longitude)
	if err != nil {
		return geo.Coordinate{}, eris.Wrapf(err, "model: store %s", r.StoreID)
	}
	return c, nil
}

// Touch bumps UpdatedAt; every mutation path calls it before persisting.
func (r *StoreRecord) Touch(now time.Time) {
	r.UpdatedAt = now.UTC()
}
