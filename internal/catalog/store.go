// Package catalog persists merged spots and the audit trail. Two backends
// exist: SQLite for single-machine deployments and Postgres for shared
// ones. Spots are indexed by H3 cell so a pipeline run loads only the
// catalog slice its batch can touch.
package catalog

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"

	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/model"
)

// SpotFilter specifies criteria for listing spots.
type SpotFilter struct {
	Status        model.VerificationStatus `json:"status,omitempty"`
	Category      model.Category           `json:"category,omitempty"`
	MinConfidence float64                  `json:"min_confidence,omitempty"`
	Limit         int                      `json:"limit,omitempty"`
	Offset        int                      `json:"offset,omitempty"`
}

// AuditFilter specifies criteria for listing audit entries.
type AuditFilter struct {
	Kind     model.AuditKind `json:"kind,omitempty"`
	SpotID   string          `json:"spot_id,omitempty"`
	SourceID string          `json:"source_id,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the spot catalog.
type Store interface {
	// Pipeline surface
	LoadCells(ctx context.Context, cells []string) ([]model.MergedSpot, error)
	CommitBatch(ctx context.Context, spots []model.MergedSpot, audits []model.AuditEntry) error

	// Serving surface
	GetSpot(ctx context.Context, id string) (*model.MergedSpot, error)
	ListSpots(ctx context.Context, filter SpotFilter) ([]model.MergedSpot, error)
	UpdateStatus(ctx context.Context, id string, status model.VerificationStatus) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the configured backend. The cell resolution must match the
// merger's so LoadCells and the merge buckets agree.
func Open(ctx context.Context, cfg config.StoreConfig, cellRes int) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.SQLitePath, cellRes)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, cellRes, cfg.Pool)
	default:
		return nil, eris.Errorf("catalog: unknown store driver %q", cfg.Driver)
	}
}

// CellToken returns the H3 cell token a coordinate indexes under.
func CellToken(lat, lon float64, res int) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return "", eris.Wrapf(err, "catalog: cell for (%f,%f)", lat, lon)
	}
	return cell.String(), nil
}

// CoveringCells returns the cell tokens within the given number of rings
// around a coordinate, for loading every spot a candidate could merge with.
func CoveringCells(lat, lon float64, res, rings int) ([]string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: cell for (%f,%f)", lat, lon)
	}
	disk, err := h3.GridDisk(cell, rings)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: grid disk")
	}

	tokens := make([]string, len(disk))
	for i, c := range disk {
		tokens[i] = c.String()
	}
	return tokens, nil
}
