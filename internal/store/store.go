// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/verte-zerg/tuispeak/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for session data.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			lang TEXT NOT NULL,
			engine TEXT NOT NULL,
			status TEXT NOT NULL,
			total_trials INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trials (
			session_id INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			reference_text TEXT NOT NULL,
			transcribed_text TEXT NOT NULL,
			accuracy REAL NOT NULL,
			fluency REAL NOT NULL,
			completeness REAL NOT NULL,
			pronunciation REAL NOT NULL,
			prosody REAL,
			PRIMARY KEY (session_id, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS trial_errors (
			session_id INTEGER NOT NULL,
			trial_idx INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			word TEXT NOT NULL,
			word_key TEXT NOT NULL,
			error_type TEXT NOT NULL,
			accuracy REAL NOT NULL,
			PRIMARY KEY (session_id, trial_idx, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
		`CREATE INDEX IF NOT EXISTS idx_trial_errors_word_key ON trial_errors(word_key);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertSession stores a finished session with its trial results.
func (s *Store) InsertSession(ctx context.Context, rec model.SessionRecord, results []model.TrialResult) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (uuid, started_at, ended_at, lang, engine, status, total_trials)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UUID,
		rec.StartedAt.Format(time.RFC3339Nano),
		rec.EndedAt.Format(time.RFC3339Nano),
		rec.Lang,
		rec.Engine,
		rec.Status,
		rec.TotalTrials,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(results) > 0 {
		trialStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO trials (session_id, idx, reference_text, transcribed_text, accuracy, fluency, completeness, pronunciation, prosody)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := trialStmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		errStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO trial_errors (session_id, trial_idx, seq, word, word_key, error_type, accuracy)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := errStmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, tr := range results {
			var prosody sql.NullFloat64
			if tr.Scores.Prosody != nil {
				prosody = sql.NullFloat64{Float64: *tr.Scores.Prosody, Valid: true}
			}
			if _, err := trialStmt.ExecContext(ctx, id, tr.Index, tr.ReferenceText, tr.TranscribedText,
				tr.Scores.Accuracy, tr.Scores.Fluency, tr.Scores.Completeness, tr.Scores.Pronunciation, prosody); err != nil {
				return 0, err
			}
			for seq, e := range tr.Scores.Errors {
				if _, err := errStmt.ExecContext(ctx, id, tr.Index, seq, e.Word, wordKey(e.Word), string(e.ErrorType), e.Accuracy); err != nil {
					return 0, err
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return id, nil
}

// ListSessions returns session aggregates filtered by history config, oldest first.
func (s *Store) ListSessions(ctx context.Context, cfg model.HistoryConfig) ([]model.SessionAggregate, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if cfg.Lang != "" {
		clauses = append(clauses, "s.lang = ?")
		args = append(args, cfg.Lang)
	}
	if cfg.Since != nil {
		clauses = append(clauses, "s.ended_at >= ?")
		args = append(args, cfg.Since.Format(time.RFC3339Nano))
	}
	limit := -1
	if cfg.Last > 0 {
		limit = cfg.Last
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT s.id, s.uuid, s.ended_at, s.status, COUNT(t.idx),
		COALESCE(AVG(t.accuracy), 0), COALESCE(AVG(t.fluency), 0),
		COALESCE(AVG(t.completeness), 0), COALESCE(AVG(t.pronunciation), 0)
		FROM sessions s
		LEFT JOIN trials t ON t.session_id = s.id
		WHERE %s
		GROUP BY s.id
		ORDER BY s.ended_at DESC
		LIMIT ?`, strings.Join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.SessionAggregate
	for rows.Next() {
		var agg model.SessionAggregate
		var endedAt string
		if err := rows.Scan(&agg.SessionID, &agg.UUID, &endedAt, &agg.Status, &agg.Trials,
			&agg.Accuracy, &agg.Fluency, &agg.Completeness, &agg.Pronunciation); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, endedAt)
		if err != nil {
			return nil, err
		}
		agg.EndedAt = parsed
		sessions = append(sessions, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}

// GetWeakWords aggregates word errors over the most recent sessions.
func (s *Store) GetWeakWords(ctx context.Context, window int, lang string) ([]model.WordAggregate, error) {
	if window <= 0 {
		return nil, nil
	}
	query := `WITH recent_sessions AS (
		SELECT id FROM sessions
		WHERE (? = '' OR lang = ?)
		ORDER BY ended_at DESC
		LIMIT ?
	)` + wordAggregateSelect + `
	JOIN recent_sessions r ON r.id = e.session_id
	GROUP BY e.word_key`
	return s.queryWords(ctx, query, lang, lang, window)
}

// ListWordAggregatesForSessions aggregates word errors across sessions.
func (s *Store) ListWordAggregatesForSessions(ctx context.Context, sessionIDs []int64) ([]model.WordAggregate, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(sessionIDs))
	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := wordAggregateSelect + fmt.Sprintf(`
	WHERE e.session_id IN (%s)
	GROUP BY e.word_key`, strings.Join(placeholders, ","))
	return s.queryWords(ctx, query, args...)
}

const wordAggregateSelect = `
	SELECT e.word_key,
		SUM(CASE WHEN e.error_type = 'Omission' THEN 0 ELSE 1 END) AS mispronounced,
		SUM(CASE WHEN e.error_type = 'Omission' THEN 1 ELSE 0 END) AS omitted
	FROM trial_errors e`

func (s *Store) queryWords(ctx context.Context, query string, args ...any) ([]model.WordAggregate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.WordAggregate
	for rows.Next() {
		var agg model.WordAggregate
		if err := rows.Scan(&agg.Word, &agg.Mispronounced, &agg.Omitted); err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTrials returns the stored results of one session in trial order.
func (s *Store) ListTrials(ctx context.Context, sessionID int64) ([]model.TrialResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, reference_text, transcribed_text, accuracy, fluency, completeness, pronunciation, prosody
		 FROM trials WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var results []model.TrialResult
	byIndex := map[int]int{}
	for rows.Next() {
		var tr model.TrialResult
		var prosody sql.NullFloat64
		if err := rows.Scan(&tr.Index, &tr.ReferenceText, &tr.TranscribedText,
			&tr.Scores.Accuracy, &tr.Scores.Fluency, &tr.Scores.Completeness, &tr.Scores.Pronunciation, &prosody); err != nil {
			return nil, err
		}
		if prosody.Valid {
			p := prosody.Float64
			tr.Scores.Prosody = &p
		}
		byIndex[tr.Index] = len(results)
		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	errRows, err := s.db.QueryContext(ctx,
		`SELECT trial_idx, word, error_type, accuracy
		 FROM trial_errors WHERE session_id = ? ORDER BY trial_idx, seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := errRows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for errRows.Next() {
		var idx int
		var rec model.ErrorRecord
		var errType string
		if err := errRows.Scan(&idx, &rec.Word, &errType, &rec.Accuracy); err != nil {
			return nil, err
		}
		rec.ErrorType = model.ErrorType(errType)
		if pos, ok := byIndex[idx]; ok {
			results[pos].Scores.Errors = append(results[pos].Scores.Errors, rec)
		}
	}
	if err := errRows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func wordKey(word string) string {
	return strings.TrimFunc(strings.ToLower(strings.TrimSpace(word)), unicode.IsPunct)
}
