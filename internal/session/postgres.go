package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/horizonte-ai/atlas/internal/db"
	"github.com/horizonte-ai/atlas/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_layer":         `SELECT session_data FROM enrichment_sessions WHERE cache_key = $1 AND expires_at > now()`,
	"set_layer":         `INSERT INTO enrichment_sessions (session_id, cache_key, website_url, session_data, status, expires_at, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (cache_key) DO UPDATE SET session_data = $4, expires_at = $6, updated_at = $8`,
	"get_stage":         `SELECT payload FROM stage_cache WHERE cache_key = $1 AND expires_at > now()`,
	"set_stage":         `INSERT INTO stage_cache (cache_key, payload, created_at, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT (cache_key) DO UPDATE SET payload = $2, created_at = $3, expires_at = $4`,
	"insert_run":        `INSERT INTO analysis_runs (id, submission, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_state":      `UPDATE analysis_runs SET state = $1, updated_at = $2 WHERE id = $3`,
	"get_run":           `SELECT id, submission, state, report, error_message, created_at, updated_at FROM analysis_runs WHERE id = $1`,
	"insert_suggestion": `INSERT INTO auto_fill_suggestions (id, session_id, field_name, source, suggested_value, confidence_score, was_edited, final_value, edited_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"insert_validation": `INSERT INTO field_validation_history (id, session_id, field_name, original_value, edited_value, source, original_confidence, edit_distance, edit_type, user_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_sessions (
	session_id        TEXT PRIMARY KEY,
	cache_key         TEXT UNIQUE,
	website_url       TEXT NOT NULL,
	user_email        TEXT NOT NULL DEFAULT '',
	session_data      BYTEA,
	total_cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_duration_ms BIGINT NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'active',
	expires_at        TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_source_performance (
	source             TEXT NOT NULL,
	field_name         TEXT NOT NULL,
	confidence_score   DOUBLE PRECISION NOT NULL,
	success_rate       DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_attempts     INTEGER NOT NULL DEFAULT 0,
	successful_fills   INTEGER NOT NULL DEFAULT 0,
	learned_adjustment DOUBLE PRECISION NOT NULL DEFAULT 1,
	last_updated       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source, field_name)
);

CREATE TABLE IF NOT EXISTS auto_fill_suggestions (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	field_name       TEXT NOT NULL,
	source           TEXT NOT NULL,
	suggested_value  TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	was_edited       BOOLEAN NOT NULL DEFAULT FALSE,
	final_value      TEXT NOT NULL DEFAULT '',
	edited_at        TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_validation_history (
	id                  TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL,
	field_name          TEXT NOT NULL,
	original_value      TEXT NOT NULL,
	edited_value        TEXT NOT NULL,
	source              TEXT NOT NULL,
	original_confidence DOUBLE PRECISION NOT NULL,
	edit_distance       INTEGER NOT NULL,
	edit_type           TEXT NOT NULL,
	user_id             TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id            TEXT PRIMARY KEY,
	submission    JSONB NOT NULL,
	state         TEXT NOT NULL DEFAULT 'queued',
	report        JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stage_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON enrichment_sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_suggestions_session ON auto_fill_suggestions(session_id);
CREATE INDEX IF NOT EXISTS idx_suggestions_source_field ON auto_fill_suggestions(source, field_name);
CREATE INDEX IF NOT EXISTS idx_suggestions_created_at ON auto_fill_suggestions(created_at);
CREATE INDEX IF NOT EXISTS idx_validation_source_field ON field_validation_history(source, field_name);
CREATE INDEX IF NOT EXISTS idx_validation_created_at ON field_validation_history(created_at);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_state ON analysis_runs(state);
CREATE INDEX IF NOT EXISTS idx_stage_cache_expires_at ON stage_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Enrichment sessions ---

func (s *PostgresStore) UpsertSession(ctx context.Context, sess *model.EnrichmentSession) error {
	now := time.Now().UTC()
	if sess.SessionID == "" {
		sess.SessionID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_sessions
			(session_id, website_url, user_email, session_data, total_cost_usd, total_duration_ms, status, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE SET
			website_url = $2, user_email = $3, session_data = $4, total_cost_usd = $5,
			total_duration_ms = $6, status = $7, expires_at = $8, updated_at = $10`,
		sess.SessionID, sess.WebsiteURL, sess.UserEmail, sess.SessionData,
		sess.TotalCostUSD, sess.TotalDurationMS, sess.Status, sess.ExpiresAt,
		sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert session %s", sess.SessionID)
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error {
	cols, vals := upd.assignments()
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	vals = append(vals, time.Now().UTC(), sessionID)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE enrichment_sessions SET %s WHERE session_id = $%d`,
			strings.Join(sets, ", "), len(cols)+2),
		vals...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("session not found: %s", sessionID)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.EnrichmentSession, error) {
	var es model.EnrichmentSession
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, website_url, user_email, session_data, total_cost_usd, total_duration_ms, status, expires_at, created_at, updated_at
		 FROM enrichment_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&es.SessionID, &es.WebsiteURL, &es.UserEmail, &es.SessionData,
		&es.TotalCostUSD, &es.TotalDurationMS, &es.Status, &es.ExpiresAt, &es.CreatedAt, &es.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get session")
	}
	return &es, nil
}

func (s *PostgresStore) GetLayer(ctx context.Context, domain, layer string) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_data FROM enrichment_sessions WHERE cache_key = $1 AND expires_at > now()`,
		layerKey(domain, layer),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "postgres: get layer")
	}
	return data, len(data) > 0, nil
}

func (s *PostgresStore) SetLayer(ctx context.Context, domain, layer string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_sessions (session_id, cache_key, website_url, session_data, status, expires_at, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (cache_key) DO UPDATE SET session_data = $4, expires_at = $6, updated_at = $8`,
		uuid.New().String(), layerKey(domain, layer), domain, data, StatusCached,
		now.Add(ttl), now, now,
	)
	return eris.Wrapf(err, "postgres: set layer %s/%s", domain, layer)
}

// --- Learner history ---

func (s *PostgresStore) RecordSuggestion(ctx context.Context, sug *model.AutoFillSuggestion) error {
	if sug.ID == "" {
		sug.ID = uuid.New().String()
	}
	if sug.CreatedAt.IsZero() {
		sug.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO auto_fill_suggestions (id, session_id, field_name, source, suggested_value, confidence_score, was_edited, final_value, edited_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sug.ID, sug.SessionID, sug.FieldName, sug.Source, sug.SuggestedValue,
		sug.ConfidenceScore, sug.WasEdited, sug.FinalValue, sug.EditedAt, sug.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert suggestion %s", sug.ID)
}

func (s *PostgresStore) MarkSuggestionEdited(ctx context.Context, id, finalValue string, editedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auto_fill_suggestions SET was_edited = TRUE, final_value = $1, edited_at = $2 WHERE id = $3`,
		finalValue, editedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark suggestion edited %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("suggestion not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, sessionID string) ([]model.AutoFillSuggestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, field_name, source, suggested_value, confidence_score, was_edited, final_value, edited_at, created_at
		 FROM auto_fill_suggestions WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suggestions")
	}
	defer rows.Close()

	var out []model.AutoFillSuggestion
	for rows.Next() {
		var sug model.AutoFillSuggestion
		if err := rows.Scan(&sug.ID, &sug.SessionID, &sug.FieldName, &sug.Source, &sug.SuggestedValue,
			&sug.ConfidenceScore, &sug.WasEdited, &sug.FinalValue, &sug.EditedAt, &sug.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan suggestion")
		}
		out = append(out, sug)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list suggestions iterate")
}

func (s *PostgresStore) RecordValidation(ctx context.Context, rec *model.ValidationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO field_validation_history (id, session_id, field_name, original_value, edited_value, source, original_confidence, edit_distance, edit_type, user_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.SessionID, rec.FieldName, rec.OriginalValue, rec.EditedValue,
		rec.Source, rec.OriginalConfidence, rec.EditDistance, string(rec.EditType),
		rec.UserID, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert validation %s", rec.ID)
}

func (s *PostgresStore) SuggestionStats(ctx context.Context, since time.Time) ([]SuggestionStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, field_name, COUNT(*)
		 FROM auto_fill_suggestions
		 WHERE created_at >= $1
		 GROUP BY source, field_name
		 ORDER BY source, field_name`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: suggestion stats")
	}
	defer rows.Close()

	var stats []SuggestionStat
	for rows.Next() {
		var st SuggestionStat
		if err := rows.Scan(&st.Source, &st.FieldName, &st.Suggestions); err != nil {
			return nil, eris.Wrap(err, "postgres: scan suggestion stat")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: suggestion stats iterate")
}

func (s *PostgresStore) EditStats(ctx context.Context, since time.Time) ([]EditStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, field_name,
			COUNT(*),
			SUM(CASE WHEN edit_type IN ('major', 'complete_rewrite') THEN 1 ELSE 0 END),
			COALESCE(SUM(edit_distance), 0)
		 FROM field_validation_history
		 WHERE created_at >= $1 AND edit_type != 'no_change'
		 GROUP BY source, field_name
		 ORDER BY source, field_name`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: edit stats")
	}
	defer rows.Close()

	var stats []EditStat
	for rows.Next() {
		var st EditStat
		if err := rows.Scan(&st.Source, &st.FieldName, &st.Edits, &st.SignificantEdits, &st.TotalEditDistance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edit stat")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: edit stats iterate")
}

func (s *PostgresStore) UpsertSourcePerformance(ctx context.Context, perf *model.SourcePerformance) error {
	if perf.LastUpdated.IsZero() {
		perf.LastUpdated = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_source_performance (source, field_name, confidence_score, success_rate, total_attempts, successful_fills, learned_adjustment, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (source, field_name) DO UPDATE SET
			confidence_score = $3, success_rate = $4, total_attempts = $5,
			successful_fills = $6, learned_adjustment = $7, last_updated = $8`,
		perf.Source, perf.FieldName, perf.ConfidenceScore, perf.SuccessRate,
		perf.TotalAttempts, perf.SuccessfulFills, perf.LearnedAdjustment, perf.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: upsert source performance %s/%s", perf.Source, perf.FieldName)
}

// UpsertSourcePerformanceBatch writes one learner refresh's rows in a single
// COPY-backed transaction.
func (s *PostgresStore) UpsertSourcePerformanceBatch(ctx context.Context, perfs []model.SourcePerformance) error {
	if len(perfs) == 0 {
		return nil
	}

	cols := []string{
		"source", "field_name", "confidence_score", "success_rate",
		"total_attempts", "successful_fills", "learned_adjustment", "last_updated",
	}

	rows := make([][]any, len(perfs))
	for i, perf := range perfs {
		if perf.LastUpdated.IsZero() {
			perf.LastUpdated = time.Now().UTC()
		}
		rows[i] = []any{
			perf.Source, perf.FieldName, perf.ConfidenceScore, perf.SuccessRate,
			perf.TotalAttempts, perf.SuccessfulFills, perf.LearnedAdjustment, perf.LastUpdated,
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "enrichment_source_performance",
		Columns:      cols,
		ConflictKeys: []string{"source", "field_name"},
	}, rows)
	return eris.Wrapf(err, "postgres: upsert %d source performance rows", len(perfs))
}

func (s *PostgresStore) GetSourcePerformance(ctx context.Context, source, fieldName string) (*model.SourcePerformance, error) {
	var perf model.SourcePerformance
	err := s.pool.QueryRow(ctx,
		`SELECT source, field_name, confidence_score, success_rate, total_attempts, successful_fills, learned_adjustment, last_updated
		 FROM enrichment_source_performance WHERE source = $1 AND field_name = $2`,
		source, fieldName,
	).Scan(&perf.Source, &perf.FieldName, &perf.ConfidenceScore, &perf.SuccessRate,
		&perf.TotalAttempts, &perf.SuccessfulFills, &perf.LearnedAdjustment, &perf.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get source performance")
	}
	return &perf, nil
}

func (s *PostgresStore) ListSourcePerformance(ctx context.Context) ([]model.SourcePerformance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, field_name, confidence_score, success_rate, total_attempts, successful_fills, learned_adjustment, last_updated
		 FROM enrichment_source_performance ORDER BY source, field_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source performance")
	}
	defer rows.Close()

	var perfs []model.SourcePerformance
	for rows.Next() {
		var perf model.SourcePerformance
		if err := rows.Scan(&perf.Source, &perf.FieldName, &perf.ConfidenceScore, &perf.SuccessRate,
			&perf.TotalAttempts, &perf.SuccessfulFills, &perf.LearnedAdjustment, &perf.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source performance")
		}
		perfs = append(perfs, perf)
	}
	return perfs, eris.Wrap(rows.Err(), "postgres: list source performance iterate")
}

// --- Analysis runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, sub model.Submission) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	subJSON, err := json.Marshal(sub)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal submission")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_runs (id, submission, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, subJSON, string(model.StateQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.AnalysisRun{
		ID:         id,
		Submission: sub,
		State:      model.StateQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateRunState(ctx context.Context, runID string, state model.ProcessingState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run state %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, report model.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET report = $1, state = $2, error_message = '', updated_at = $3 WHERE id = $4`,
		reportJSON, string(model.StateCompleted), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET state = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(model.StateFailed), errorMessage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, submission, state, report, error_message, created_at, updated_at FROM analysis_runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, submission, state, report, error_message, created_at, updated_at FROM analysis_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		r, err := scanPostgresRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CountRunsByState(ctx context.Context) (map[model.ProcessingState]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM analysis_runs GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count runs")
	}
	defer rows.Close()

	counts := make(map[model.ProcessingState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run count")
		}
		counts[model.ProcessingState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count runs iterate")
}

// --- Stage cache ---

func (s *PostgresStore) GetStage(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM stage_cache WHERE cache_key = $1 AND expires_at > now()`,
		key,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get stage")
	}
	return payload, nil
}

func (s *PostgresStore) SetStage(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_cache (cache_key, payload, created_at, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT (cache_key) DO UPDATE SET payload = $2, created_at = $3, expires_at = $4`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set stage")
}

func (s *PostgresStore) PruneExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stage_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune stage cache")
	}
	deleted := int(tag.RowsAffected())

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM enrichment_sessions WHERE cache_key IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return deleted, eris.Wrap(err, "postgres: prune sessions")
	}
	return deleted + int(tag.RowsAffected()), nil
}

// scanPostgresRun scans one analysis_runs row from either a Row or Rows scan
// function.
func scanPostgresRun(scan func(dest ...any) error) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var subJSON []byte
	var reportNull *[]byte

	if err := scan(&r.ID, &subJSON, &r.State, &reportNull, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subJSON, &r.Submission); err != nil {
		return nil, eris.Wrap(err, "unmarshal submission")
	}
	if reportNull != nil {
		if err := json.Unmarshal(*reportNull, &r.Report); err != nil {
			return nil, eris.Wrap(err, "unmarshal report")
		}
	}
	return &r, nil
}
