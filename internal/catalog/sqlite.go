package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/wildsight/spot-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	cellRes int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, cellRes int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, cellRes: cellRes}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS spots (
	id                    TEXT PRIMARY KEY,
	canonical_name        TEXT NOT NULL,
	canonical_description TEXT,
	latitude              REAL NOT NULL,
	longitude             REAL NOT NULL,
	category              TEXT NOT NULL,
	cell                  TEXT NOT NULL,
	members               TEXT NOT NULL,
	confidence            REAL NOT NULL,
	enrichment            TEXT,
	status                TEXT NOT NULL DEFAULT 'unverified',
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	source_id   TEXT,
	spot_id     TEXT,
	detail      TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spots_cell ON spots(cell);
CREATE INDEX IF NOT EXISTS idx_spots_status ON spots(status);
CREATE INDEX IF NOT EXISTS idx_spots_category ON spots(category);
CREATE INDEX IF NOT EXISTS idx_audit_log_kind ON audit_log(kind);
CREATE INDEX IF NOT EXISTS idx_audit_log_spot_id ON audit_log(spot_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_source_id ON audit_log(source_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadCells(ctx context.Context, cells []string) ([]model.MergedSpot, error) {
	if len(cells) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cells)), ",")
	args := make([]any, len(cells))
	for i, c := range cells {
		args[i] = c
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+spotColumns+` FROM spots WHERE cell IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load cells")
	}
	defer rows.Close()

	return collectSpots(rows)
}

func (s *SQLiteStore) CommitBatch(ctx context.Context, spots []model.MergedSpot, audits []model.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback()

	for _, spot := range spots {
		cell, membersJSON, enrichmentJSON, err := s.spotColumns(spot)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO spots (id, canonical_name, canonical_description, latitude, longitude,
				category, cell, members, confidence, enrichment, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				canonical_name = excluded.canonical_name,
				canonical_description = excluded.canonical_description,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				category = excluded.category,
				cell = excluded.cell,
				members = excluded.members,
				confidence = excluded.confidence,
				enrichment = excluded.enrichment,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			spot.ID, spot.CanonicalName, nullString(spot.CanonicalDesc),
			spot.Latitude, spot.Longitude, string(spot.Category), cell,
			membersJSON, spot.Confidence, enrichmentJSON, string(spot.Status),
			spot.CreatedAt.UTC(), spot.UpdatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert spot %s", spot.ID)
		}
	}

	for _, a := range audits {
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO audit_log (id, kind, source_id, spot_id, detail, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(a.Kind), nullString(a.SourceID), nullString(a.SpotID), a.Detail, a.RecordedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert audit entry")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) GetSpot(ctx context.Context, id string) (*model.MergedSpot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+spotColumns+` FROM spots WHERE id = ?`, id)
	spot, err := scanSpot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get spot %s", id)
	}
	return spot, nil
}

func (s *SQLiteStore) ListSpots(ctx context.Context, filter SpotFilter) ([]model.MergedSpot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, filter.MinConfidence)
	}
	query += ` ORDER BY confidence DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list spots")
	}
	defer rows.Close()

	return collectSpots(rows)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.VerificationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE spots SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("spot not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error) {
	query := `SELECT id, kind, source_id, spot_id, detail, recorded_at FROM audit_log WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.SpotID != "" {
		query += ` AND spot_id = ?`
		args = append(args, filter.SpotID)
	}
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	query += ` ORDER BY recorded_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var sourceID, spotID sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &sourceID, &spotID, &e.Detail, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.SourceID = sourceID.String
		e.SpotID = spotID.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

// helpers

const spotColumns = `id, canonical_name, canonical_description, latitude, longitude,
	category, members, confidence, enrichment, status, created_at, updated_at`

func (s *SQLiteStore) spotColumns(spot model.MergedSpot) (cell string, membersJSON string, enrichmentJSON sql.NullString, err error) {
	cell, err = CellToken(spot.Latitude, spot.Longitude, s.cellRes)
	if err != nil {
		return "", "", sql.NullString{}, err
	}

	members, err := json.Marshal(spot.Members)
	if err != nil {
		return "", "", sql.NullString{}, eris.Wrap(err, "sqlite: marshal members")
	}

	if spot.Enrichment != nil {
		enr, err := json.Marshal(spot.Enrichment)
		if err != nil {
			return "", "", sql.NullString{}, eris.Wrap(err, "sqlite: marshal enrichment")
		}
		enrichmentJSON = sql.NullString{String: string(enr), Valid: true}
	}

	return cell, string(members), enrichmentJSON, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSpot(row scannable) (*model.MergedSpot, error) {
	var spot model.MergedSpot
	var desc, enrichmentJSON sql.NullString
	var membersJSON string

	err := row.Scan(&spot.ID, &spot.CanonicalName, &desc, &spot.Latitude, &spot.Longitude,
		&spot.Category, &membersJSON, &spot.Confidence, &enrichmentJSON,
		&spot.Status, &spot.CreatedAt, &spot.UpdatedAt)
	if err != nil {
		return nil, err
	}

	spot.CanonicalDesc = desc.String
	if err := json.Unmarshal([]byte(membersJSON), &spot.Members); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal members")
	}
	if enrichmentJSON.Valid {
		spot.Enrichment = &model.Enrichment{}
		if err := json.Unmarshal([]byte(enrichmentJSON.String), spot.Enrichment); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal enrichment")
		}
	}
	return &spot, nil
}

func collectSpots(rows *sql.Rows) ([]model.MergedSpot, error) {
	var spots []model.MergedSpot
	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan spot")
		}
		spots = append(spots, *spot)
	}
	return spots, eris.Wrap(rows.Err(), "sqlite: iterate spots")
}
