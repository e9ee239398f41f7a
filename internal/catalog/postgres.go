package catalog

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/db"
	"github.com/wildsight/spot-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	cellRes int
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_spot":      `SELECT id, canonical_name, canonical_description, latitude, longitude, category, members, confidence, enrichment, status, created_at, updated_at FROM spots WHERE id = $1`,
	"update_status": `UPDATE spots SET status = $1, updated_at = $2 WHERE id = $3`,
	"insert_audit":  `INSERT INTO audit_log (id, kind, source_id, spot_id, detail, recorded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, cellRes int, poolCfg config.PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg.MaxConns > 0 {
		maxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		minConns = poolCfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, cellRes: cellRes, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS spots (
	id                    TEXT PRIMARY KEY,
	canonical_name        TEXT NOT NULL,
	canonical_description TEXT,
	latitude              DOUBLE PRECISION NOT NULL,
	longitude             DOUBLE PRECISION NOT NULL,
	category              TEXT NOT NULL,
	cell                  TEXT NOT NULL,
	members               JSONB NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL,
	enrichment            JSONB,
	status                TEXT NOT NULL DEFAULT 'unverified',
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind        TEXT NOT NULL,
	source_id   TEXT,
	spot_id     TEXT,
	detail      TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_spots_cell ON spots(cell);
CREATE INDEX IF NOT EXISTS idx_spots_status ON spots(status);
CREATE INDEX IF NOT EXISTS idx_spots_category ON spots(category);
CREATE INDEX IF NOT EXISTS idx_audit_log_kind ON audit_log(kind);
CREATE INDEX IF NOT EXISTS idx_audit_log_spot_id ON audit_log(spot_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_source_id ON audit_log(source_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var spotUpsert = db.UpsertConfig{
	Table: "spots",
	Columns: []string{"id", "canonical_name", "canonical_description", "latitude", "longitude",
		"category", "cell", "members", "confidence", "enrichment", "status", "created_at", "updated_at"},
	ConflictKeys: []string{"id"},
}

// CommitBatch writes one pipeline run's output atomically: every spot
// upsert and audit entry lands in a single transaction or none do.
func (s *PostgresStore) CommitBatch(ctx context.Context, spots []model.MergedSpot, audits []model.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit")
	}
	defer tx.Rollback(ctx)

	spotRows := make([][]any, 0, len(spots))
	for _, spot := range spots {
		cell, err := CellToken(spot.Latitude, spot.Longitude, s.cellRes)
		if err != nil {
			return err
		}
		members, err := json.Marshal(spot.Members)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal members")
		}
		var enrichment []byte
		if spot.Enrichment != nil {
			enrichment, err = json.Marshal(spot.Enrichment)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal enrichment")
			}
		}
		spotRows = append(spotRows, []any{
			spot.ID, spot.CanonicalName, nilIfEmpty(spot.CanonicalDesc),
			spot.Latitude, spot.Longitude, string(spot.Category), cell,
			members, spot.Confidence, enrichment, string(spot.Status),
			spot.CreatedAt.UTC(), spot.UpdatedAt.UTC(),
		})
	}
	if _, err := db.BulkUpsert(ctx, tx, spotUpsert, spotRows); err != nil {
		return err
	}

	if len(audits) > 0 {
		auditRows := make([][]any, 0, len(audits))
		for _, a := range audits {
			id := a.ID
			if id == "" {
				id = uuid.New().String()
			}
			auditRows = append(auditRows, []any{
				id, string(a.Kind), nilIfEmpty(a.SourceID), nilIfEmpty(a.SpotID), a.Detail, a.RecordedAt.UTC(),
			})
		}
		_, err := db.CopyFrom(ctx, tx, "audit_log",
			[]string{"id", "kind", "source_id", "spot_id", "detail", "recorded_at"}, auditRows)
		if err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

func (s *PostgresStore) LoadCells(ctx context.Context, cells []string) ([]model.MergedSpot, error) {
	if len(cells) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, canonical_name, canonical_description, latitude, longitude, category,
			members, confidence, enrichment, status, created_at, updated_at
		 FROM spots WHERE cell = ANY($1)`,
		cells,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load cells")
	}
	defer rows.Close()

	return collectPgSpots(rows)
}

func (s *PostgresStore) GetSpot(ctx context.Context, id string) (*model.MergedSpot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, canonical_name, canonical_description, latitude, longitude, category,
			members, confidence, enrichment, status, created_at, updated_at
		 FROM spots WHERE id = $1`,
		id,
	)
	spot, err := scanPgSpot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get spot %s", id)
	}
	return spot, nil
}

func (s *PostgresStore) ListSpots(ctx context.Context, filter SpotFilter) ([]model.MergedSpot, error) {
	query := `SELECT id, canonical_name, canonical_description, latitude, longitude, category,
		members, confidence, enrichment, status, created_at, updated_at
	 FROM spots WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += ` AND category = $` + itoa(len(args))
	}
	if filter.MinConfidence > 0 {
		args = append(args, filter.MinConfidence)
		query += ` AND confidence >= $` + itoa(len(args))
	}
	query += ` ORDER BY confidence DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list spots")
	}
	defer rows.Close()

	return collectPgSpots(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status model.VerificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spots SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("spot not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error) {
	query := `SELECT id, kind, source_id, spot_id, detail, recorded_at FROM audit_log WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $` + itoa(len(args))
	}
	if filter.SpotID != "" {
		args = append(args, filter.SpotID)
		query += ` AND spot_id = $` + itoa(len(args))
	}
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		query += ` AND source_id = $` + itoa(len(args))
	}
	query += ` ORDER BY recorded_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var sourceID, spotID *string
		if err := rows.Scan(&e.ID, &e.Kind, &sourceID, &spotID, &e.Detail, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		if sourceID != nil {
			e.SourceID = *sourceID
		}
		if spotID != nil {
			e.SpotID = *spotID
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

// helpers

func scanPgSpot(row pgx.Row) (*model.MergedSpot, error) {
	var spot model.MergedSpot
	var desc *string
	var membersJSON, enrichmentJSON []byte

	err := row.Scan(&spot.ID, &spot.CanonicalName, &desc, &spot.Latitude, &spot.Longitude,
		&spot.Category, &membersJSON, &spot.Confidence, &enrichmentJSON,
		&spot.Status, &spot.CreatedAt, &spot.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if desc != nil {
		spot.CanonicalDesc = *desc
	}
	if err := json.Unmarshal(membersJSON, &spot.Members); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal members")
	}
	if len(enrichmentJSON) > 0 {
		spot.Enrichment = &model.Enrichment{}
		if err := json.Unmarshal(enrichmentJSON, spot.Enrichment); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal enrichment")
		}
	}
	return &spot, nil
}

func collectPgSpots(rows pgx.Rows) ([]model.MergedSpot, error) {
	var spots []model.MergedSpot
	for rows.Next() {
		spot, err := scanPgSpot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan spot")
		}
		spots = append(spots, *spot)
	}
	return spots, eris.Wrap(rows.Err(), "postgres: iterate spots")
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
