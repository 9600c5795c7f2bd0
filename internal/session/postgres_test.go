package session

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonte-ai/atlas/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT session_id, website_url, user_email, session_data`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	sess, err := s.GetSession(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("sess-1", "acme.com.br", "dono@acme.com.br", pgxmock.AnyArg(),
			0.25, int64(90000), StatusActive, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertSession(context.Background(), &model.EnrichmentSession{
		SessionID:       "sess-1",
		WebsiteURL:      "acme.com.br",
		UserEmail:       "dono@acme.com.br",
		SessionData:     []byte(`{"company_name":"Acme"}`),
		TotalCostUSD:    0.25,
		TotalDurationMS: 90000,
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_BuildsAssignments(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrichment_sessions SET user_email = \$1, total_cost_usd = \$2, updated_at = \$3 WHERE session_id = \$4`).
		WithArgs("dono@acme.com.br", 2.5, pgxmock.AnyArg(), "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateSession(context.Background(), "sess-1", SessionUpdate{
		UserEmail:    Set("dono@acme.com.br"),
		TotalCostUSD: Set(2.5),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrichment_sessions SET`).
		WithArgs("completed", pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateSession(context.Background(), "ghost", SessionUpdate{Status: Set("completed")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_EmptyIsNoOp(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.UpdateSession(context.Background(), "sess-1", SessionUpdate{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLayer_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT session_data FROM enrichment_sessions`).
		WithArgs("unknown.com.br/places").
		WillReturnError(pgx.ErrNoRows)

	data, ok, err := s.GetLayer(context.Background(), "unknown.com.br", "places")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLayer_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT session_data FROM enrichment_sessions`).
		WithArgs("acme.com.br/places").
		WillReturnRows(pgxmock.NewRows([]string{"session_data"}).AddRow([]byte(`{"rating":4.7}`)))

	data, ok, err := s.GetLayer(context.Background(), "acme.com.br", "places")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"rating":4.7}`, string(data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetLayer_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs(pgxmock.AnyArg(), "acme.com.br/places", "acme.com.br", pgxmock.AnyArg(),
			StatusCached, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetLayer(context.Background(), "acme.com.br", "places", []byte(`{"rating":4.7}`), 7*24*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSuggestionEdited_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE auto_fill_suggestions SET was_edited = TRUE`).
		WithArgs("+55 11 4002-0000", pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkSuggestionEdited(context.Background(), "ghost", "+55 11 4002-0000", time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suggestion not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EditStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().UTC().Add(-30 * 24 * time.Hour)

	mock.ExpectQuery(`FROM field_validation_history`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"source", "field_name", "edits", "significant", "distance"}).
			AddRow("clearbit", "phone", 1, 0, 5).
			AddRow("google_places", "phone", 3, 2, 52))

	stats, err := s.EditStats(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, EditStat{Source: "clearbit", FieldName: "phone", Edits: 1, SignificantEdits: 0, TotalEditDistance: 5}, stats[0])
	assert.Equal(t, EditStat{Source: "google_places", FieldName: "phone", Edits: 3, SignificantEdits: 2, TotalEditDistance: 52}, stats[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, submission, state, report, error_message, created_at, updated_at FROM analysis_runs`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), "nonexistent-run")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	reportJSON := []byte(`{"parte_1_onde_estamos":{"resumo_executivo":"Diagnóstico."}}`)

	mock.ExpectQuery(`FROM analysis_runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "submission", "state", "report", "error_message", "created_at", "updated_at"}).
			AddRow("run-1", []byte(`{"company":"Acme Tech"}`), "completed", &reportJSON, "", now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "Acme Tech", run.Submission.Company)
	assert.Equal(t, model.StateCompleted, run.State)
	require.NotNil(t, run.Report)
	part, _ := run.Report["parte_1_onde_estamos"].(map[string]any)
	assert.Equal(t, "Diagnóstico.", part["resumo_executivo"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO analysis_runs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), string(model.StateQueued), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.Submission{Company: "Acme Tech"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.StateQueued, run.State)
	assert.Equal(t, "Acme Tech", run.Submission.Company)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunState_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE analysis_runs SET state = \$1`).
		WithArgs(string(model.StateCompleted), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunState(context.Background(), "ghost", model.StateCompleted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_ClearsError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SET report = \$1, state = \$2, error_message = ''`).
		WithArgs(pgxmock.AnyArg(), string(model.StateCompleted), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteRun(context.Background(), "run-1", model.Report{"swot": "ok"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_FilterByState(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`AND state = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs(string(model.StateFailed), 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "submission", "state", "report", "error_message", "created_at", "updated_at"}).
			AddRow("run-9", []byte(`{"company":"Beta"}`), "failed", nil, "stage extraction: all models failed", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{State: model.StateFailed, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-9", runs[0].ID)
	assert.Equal(t, model.StateFailed, runs[0].State)
	assert.Equal(t, "stage extraction: all models failed", runs[0].ErrorMessage)
	assert.Nil(t, runs[0].Report)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountRunsByState(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM analysis_runs GROUP BY state`).
		WillReturnRows(pgxmock.NewRows([]string{"state", "count"}).
			AddRow("queued", 2).
			AddRow("completed", 1))

	counts, err := s.CountRunsByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StateQueued])
	assert.Equal(t, 1, counts[model.StateCompleted])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetStage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload FROM stage_cache`).
		WithArgs("abc123hash").
		WillReturnError(pgx.ErrNoRows)

	data, err := s.GetStage(context.Background(), "abc123hash")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStage_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("hash456", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetStage(context.Background(), "hash456", []byte(`{"swot":"ok"}`), 30*24*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PruneExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM stage_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM enrichment_sessions`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	deleted, err := s.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
