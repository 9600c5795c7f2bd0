package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/horizonte-ai/atlas/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_sessions (
	session_id        TEXT PRIMARY KEY,
	cache_key         TEXT UNIQUE,
	website_url       TEXT NOT NULL,
	user_email        TEXT NOT NULL DEFAULT '',
	session_data      BLOB,
	total_cost_usd    REAL NOT NULL DEFAULT 0,
	total_duration_ms INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'active',
	expires_at        DATETIME NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichment_source_performance (
	source             TEXT NOT NULL,
	field_name         TEXT NOT NULL,
	confidence_score   REAL NOT NULL,
	success_rate       REAL NOT NULL DEFAULT 0,
	total_attempts     INTEGER NOT NULL DEFAULT 0,
	successful_fills   INTEGER NOT NULL DEFAULT 0,
	learned_adjustment REAL NOT NULL DEFAULT 1,
	last_updated       DATETIME NOT NULL,
	PRIMARY KEY (source, field_name)
);

CREATE TABLE IF NOT EXISTS auto_fill_suggestions (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	field_name       TEXT NOT NULL,
	source           TEXT NOT NULL,
	suggested_value  TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	was_edited       INTEGER NOT NULL DEFAULT 0,
	final_value      TEXT NOT NULL DEFAULT '',
	edited_at        DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS field_validation_history (
	id                  TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL,
	field_name          TEXT NOT NULL,
	original_value      TEXT NOT NULL,
	edited_value        TEXT NOT NULL,
	source              TEXT NOT NULL,
	original_confidence REAL NOT NULL,
	edit_distance       INTEGER NOT NULL,
	edit_type           TEXT NOT NULL,
	user_id             TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id            TEXT PRIMARY KEY,
	submission    TEXT NOT NULL,
	state         TEXT NOT NULL DEFAULT 'queued',
	report        TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stage_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Enrichment sessions ---

// UpsertSession inserts or fully replaces one session row. A missing
// SessionID and zero timestamps are filled in on the passed struct.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *model.EnrichmentSession) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_sessions
			(session_id, website_url, user_email, session_data, total_cost_usd, total_duration_ms, status, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
			website_url = excluded.website_url,
			user_email = excluded.user_email,
			session_data = excluded.session_data,
			total_cost_usd = excluded.total_cost_usd,
			total_duration_ms = excluded.total_duration_ms,
			status = excluded.status,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sess.SessionID, sess.WebsiteURL, sess.UserEmail, sess.SessionData,
		sess.TotalCostUSD, sess.TotalDurationMS, sess.Status, sess.ExpiresAt,
		sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert session %s", sess.SessionID)
}

// UpdateSession applies a partial update. An empty update is a no-op.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error {
	cols, vals := upd.assignments()
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	vals = append(vals, time.Now().UTC(), sessionID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`,
		vals...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.EnrichmentSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, website_url, user_email, session_data, total_cost_usd, total_duration_ms, status, expires_at, created_at, updated_at
		 FROM enrichment_sessions WHERE session_id = ?`,
		sessionID,
	)
	return scanSession(row)
}

func (s *SQLiteStore) GetLayer(ctx context.Context, domain, layer string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT session_data FROM enrichment_sessions WHERE cache_key = ? AND expires_at > ?`,
		layerKey(domain, layer), time.Now().UTC(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get layer")
	}
	return data, len(data) > 0, nil
}

func (s *SQLiteStore) SetLayer(ctx context.Context, domain, layer string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_sessions
			(session_id, cache_key, website_url, session_data, status, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET
			session_data = excluded.session_data,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		uuid.New().String(), layerKey(domain, layer), domain, data, StatusCached,
		now.Add(ttl), now, now,
	)
	return eris.Wrapf(err, "sqlite: set layer %s/%s", domain, layer)
}

// --- Learner history ---

func (s *SQLiteStore) RecordSuggestion(ctx context.Context, sug *model.AutoFillSuggestion) error {
	if sug.ID == "" {
		sug.ID = uuid.New().String()
	}
	if sug.CreatedAt.IsZero() {
		sug.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auto_fill_suggestions
			(id, session_id, field_name, source, suggested_value, confidence_score, was_edited, final_value, edited_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sug.ID, sug.SessionID, sug.FieldName, sug.Source, sug.SuggestedValue,
		sug.ConfidenceScore, sug.WasEdited, sug.FinalValue, sug.EditedAt, sug.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert suggestion %s", sug.ID)
}

func (s *SQLiteStore) MarkSuggestionEdited(ctx context.Context, id, finalValue string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auto_fill_suggestions SET was_edited = ?, final_value = ?, edited_at = ? WHERE id = ?`,
		true, finalValue, editedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark suggestion edited %s", id)
	}
	return checkRowsAffected(res, "suggestion", id)
}

func (s *SQLiteStore) ListSuggestions(ctx context.Context, sessionID string) ([]model.AutoFillSuggestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, field_name, source, suggested_value, confidence_score, was_edited, final_value, edited_at, created_at
		 FROM auto_fill_suggestions WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list suggestions")
	}
	defer rows.Close()

	var out []model.AutoFillSuggestion
	for rows.Next() {
		var sug model.AutoFillSuggestion
		var editedAt sql.NullTime
		if err := rows.Scan(&sug.ID, &sug.SessionID, &sug.FieldName, &sug.Source, &sug.SuggestedValue,
			&sug.ConfidenceScore, &sug.WasEdited, &sug.FinalValue, &editedAt, &sug.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suggestion")
		}
		if editedAt.Valid {
			t := editedAt.Time
			sug.EditedAt = &t
		}
		out = append(out, sug)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list suggestions iterate")
}

func (s *SQLiteStore) RecordValidation(ctx context.Context, rec *model.ValidationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO field_validation_history
			(id, session_id, field_name, original_value, edited_value, source, original_confidence, edit_distance, edit_type, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.FieldName, rec.OriginalValue, rec.EditedValue,
		rec.Source, rec.OriginalConfidence, rec.EditDistance, string(rec.EditType),
		rec.UserID, rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert validation %s", rec.ID)
}

func (s *SQLiteStore) SuggestionStats(ctx context.Context, since time.Time) ([]SuggestionStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, field_name, COUNT(*)
		 FROM auto_fill_suggestions
		 WHERE created_at >= ?
		 GROUP BY source, field_name
		 ORDER BY source, field_name`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: suggestion stats")
	}
	defer rows.Close()

	var stats []SuggestionStat
	for rows.Next() {
		var st SuggestionStat
		if err := rows.Scan(&st.Source, &st.FieldName, &st.Suggestions); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suggestion stat")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: suggestion stats iterate")
}

func (s *SQLiteStore) EditStats(ctx context.Context, since time.Time) ([]EditStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, field_name,
			COUNT(*),
			SUM(CASE WHEN edit_type IN ('major', 'complete_rewrite') THEN 1 ELSE 0 END),
			COALESCE(SUM(edit_distance), 0)
		 FROM field_validation_history
		 WHERE created_at >= ? AND edit_type != 'no_change'
		 GROUP BY source, field_name
		 ORDER BY source, field_name`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: edit stats")
	}
	defer rows.Close()

	var stats []EditStat
	for rows.Next() {
		var st EditStat
		if err := rows.Scan(&st.Source, &st.FieldName, &st.Edits, &st.SignificantEdits, &st.TotalEditDistance); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edit stat")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: edit stats iterate")
}

func (s *SQLiteStore) UpsertSourcePerformance(ctx context.Context, perf *model.SourcePerformance) error {
	if perf.LastUpdated.IsZero() {
		perf.LastUpdated = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_source_performance
			(source, field_name, confidence_score, success_rate, total_attempts, successful_fills, learned_adjustment, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, field_name) DO UPDATE SET
			confidence_score = excluded.confidence_score,
			success_rate = excluded.success_rate,
			total_attempts = excluded.total_attempts,
			successful_fills = excluded.successful_fills,
			learned_adjustment = excluded.learned_adjustment,
			last_updated = excluded.last_updated`,
		perf.Source, perf.FieldName, perf.ConfidenceScore, perf.SuccessRate,
		perf.TotalAttempts, perf.SuccessfulFills, perf.LearnedAdjustment, perf.LastUpdated,
	)
	return eris.Wrapf(err, "sqlite: upsert source performance %s/%s", perf.Source, perf.FieldName)
}

// UpsertSourcePerformanceBatch writes one learner refresh's rows in a single
// transaction.
func (s *SQLiteStore) UpsertSourcePerformanceBatch(ctx context.Context, perfs []model.SourcePerformance) error {
	if len(perfs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO enrichment_source_performance
			(source, field_name, confidence_score, success_rate, total_attempts, successful_fills, learned_adjustment, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, field_name) DO UPDATE SET
			confidence_score = excluded.confidence_score,
			success_rate = excluded.success_rate,
			total_attempts = excluded.total_attempts,
			successful_fills = excluded.successful_fills,
			learned_adjustment = excluded.learned_adjustment,
			last_updated = excluded.last_updated`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare batch upsert")
	}
	defer stmt.Close()

	for _, perf := range perfs {
		if perf.LastUpdated.IsZero() {
			perf.LastUpdated = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			perf.Source, perf.FieldName, perf.ConfidenceScore, perf.SuccessRate,
			perf.TotalAttempts, perf.SuccessfulFills, perf.LearnedAdjustment, perf.LastUpdated,
		); err != nil {
			return eris.Wrapf(err, "sqlite: batch upsert %s/%s", perf.Source, perf.FieldName)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch upsert")
}

func (s *SQLiteStore) GetSourcePerformance(ctx context.Context, source, fieldName string) (*model.SourcePerformance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, field_name, confidence_score, success_rate, total_attempts, successful_fills, learned_adjustment, last_updated
		 FROM enrichment_source_performance WHERE source = ? AND field_name = ?`,
		source, fieldName,
	)

	var perf model.SourcePerformance
	err := row.Scan(&perf.Source, &perf.FieldName, &perf.ConfidenceScore, &perf.SuccessRate,
		&perf.TotalAttempts, &perf.SuccessfulFills, &perf.LearnedAdjustment, &perf.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get source performance")
	}
	return &perf, nil
}

func (s *SQLiteStore) ListSourcePerformance(ctx context.Context) ([]model.SourcePerformance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, field_name, confidence_score, success_rate, total_attempts, successful_fills, learned_adjustment, last_updated
		 FROM enrichment_source_performance ORDER BY source, field_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source performance")
	}
	defer rows.Close()

	var perfs []model.SourcePerformance
	for rows.Next() {
		var perf model.SourcePerformance
		if err := rows.Scan(&perf.Source, &perf.FieldName, &perf.ConfidenceScore, &perf.SuccessRate,
			&perf.TotalAttempts, &perf.SuccessfulFills, &perf.LearnedAdjustment, &perf.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source performance")
		}
		perfs = append(perfs, perf)
	}
	return perfs, eris.Wrap(rows.Err(), "sqlite: list source performance iterate")
}

// --- Analysis runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, sub model.Submission) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	subJSON, err := json.Marshal(sub)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal submission")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, submission, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(subJSON), string(model.StateQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.AnalysisRun{
		ID:         id,
		Submission: sub,
		State:      model.StateQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateRunState(ctx context.Context, runID string, state model.ProcessingState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run state %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, report model.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET report = ?, state = ?, error_message = '', updated_at = ? WHERE id = ?`,
		string(reportJSON), string(model.StateCompleted), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET state = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(model.StateFailed), errorMessage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, submission, state, report, error_message, created_at, updated_at FROM analysis_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, submission, state, report, error_message, created_at, updated_at FROM analysis_runs WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`

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
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CountRunsByState(ctx context.Context) (map[model.ProcessingState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM analysis_runs GROUP BY state`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count runs")
	}
	defer rows.Close()

	counts := make(map[model.ProcessingState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run count")
		}
		counts[model.ProcessingState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count runs iterate")
}

// --- Stage cache ---

func (s *SQLiteStore) GetStage(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM stage_cache WHERE cache_key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get stage")
	}
	return payload, nil
}

func (s *SQLiteStore) SetStage(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_cache (cache_key, payload, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set stage")
}

// PruneExpired removes expired stage-cache rows and expired warm-cache
// session rows. User sessions without a cache_key are kept.
func (s *SQLiteStore) PruneExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `DELETE FROM stage_cache WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune stage cache")
	}
	stageN, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM enrichment_sessions WHERE cache_key IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return int(stageN), eris.Wrap(err, "sqlite: prune sessions")
	}
	sessN, err := res.RowsAffected()
	if err != nil {
		return int(stageN), eris.Wrap(err, "sqlite: rows affected")
	}

	return int(stageN + sessN), nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var subJSON string
	var reportJSON sql.NullString

	err := row.Scan(&r.ID, &subJSON, &r.State, &reportJSON, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(subJSON), &r.Submission); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal submission")
	}
	if reportJSON.Valid {
		if err := json.Unmarshal([]byte(reportJSON.String), &r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}

func scanSession(row scannable) (*model.EnrichmentSession, error) {
	var es model.EnrichmentSession

	err := row.Scan(&es.SessionID, &es.WebsiteURL, &es.UserEmail, &es.SessionData,
		&es.TotalCostUSD, &es.TotalDurationMS, &es.Status, &es.ExpiresAt, &es.CreatedAt, &es.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan session")
	}
	return &es, nil
}
