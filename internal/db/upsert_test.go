package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTx(t *testing.T) (pgx.Tx, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return tx, mock
}

func TestBulkUpsert(t *testing.T) {
	tx, mock := newMockTx(t)

	cfg := UpsertConfig{
		Table:        "spots",
		Columns:      []string{"id", "name", "confidence"},
		ConflictKeys: []string{"id"},
	}
	rows := [][]any{
		{"spot-1", "Cascade A", 0.9},
		{"spot-2", "Grotte B", 0.7},
	}

	mock.ExpectExec(`CREATE TEMP TABLE _tmp_upsert_spots`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_spots"}, cfg.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO spots .+ ON CONFLICT \(id\) DO UPDATE SET name = EXCLUDED.name, confidence = EXCLUDED.confidence`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := BulkUpsert(context.Background(), tx, cfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_EmptyRowsNoOp(t *testing.T) {
	tx, mock := newMockTx(t)

	n, err := BulkUpsert(context.Background(), tx, UpsertConfig{
		Table: "spots", Columns: []string{"id"}, ConflictKeys: []string{"id"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_RequiresColumnsAndKeys(t *testing.T) {
	tx, _ := newMockTx(t)
	rows := [][]any{{"spot-1"}}

	_, err := BulkUpsert(context.Background(), tx, UpsertConfig{Table: "spots", ConflictKeys: []string{"id"}}, rows)
	require.Error(t, err)

	_, err = BulkUpsert(context.Background(), tx, UpsertConfig{Table: "spots", Columns: []string{"id"}}, rows)
	require.Error(t, err)
}

func TestCopyFrom(t *testing.T) {
	tx, mock := newMockTx(t)
	cols := []string{"id", "kind", "detail"}

	mock.ExpectCopyFrom(pgx.Identifier{"audit_log"}, cols).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), tx, "audit_log", cols, [][]any{
		{"a1", "rejected_candidate", "out_of_bounds_coordinate"},
		{"a2", "status_change", "promoted to verified"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_EmptyRowsNoOp(t *testing.T) {
	tx, mock := newMockTx(t)

	n, err := CopyFrom(context.Background(), tx, "audit_log", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_ExplicitUpdateCols(t *testing.T) {
	tx, mock := newMockTx(t)

	cfg := UpsertConfig{
		Table:        "spots",
		Columns:      []string{"id", "name", "created_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"name"},
	}

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_spots"}, cfg.Columns).WillReturnResult(1)
	mock.ExpectExec(`DO UPDATE SET name = EXCLUDED.name$`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := BulkUpsert(context.Background(), tx, cfg, [][]any{{"spot-1", "X", nil}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
