package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one recorded sync run.
type Run struct {
	ID               int64
	Source           string
	StartedAt        time.Time
	CompletedAt      sql.NullTime
	Status           string
	MessagesFound    int64
	MessagesAdded    int64
	MessagesSkipped  int64
	AttachmentsSaved int64
	Since            sql.NullTime
	HighWaterMark    sql.NullTime
	ErrorMessage     sql.NullString
	Topics           []TopicCount
}

// TopicCount is the number of messages a run added to one topic.
type TopicCount struct {
	Topic    string
	Messages int
}

// RunStats are the counters a finished run reports.
type RunStats struct {
	Found         int64
	Added         int64
	Skipped       int64
	Attachments   int64
	HighWaterMark *time.Time
	Topics        map[string]int
}

// StartRun records the start of a run against source. Runs of the same
// source still marked running are closed as failed first, since only one run
// can be active per output root.
func (s *Store) StartRun(source string, since *time.Time) (int64, error) {
	now := formatTime(s.now())
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE sync_runs
			SET status = 'failed',
			    error_message = 'superseded by new run',
			    completed_at = ?
			WHERE source = ? AND status = 'running'
		`, now, source); err != nil {
			return fmt.Errorf("mark stale runs failed: %w", err)
		}
		res, err := tx.Exec(`
			INSERT INTO sync_runs (source, started_at, status, since)
			VALUES (?, ?, 'running', ?)
		`, source, now, formatNullTime(since))
		if err != nil {
			return fmt.Errorf("insert sync_run: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// CompleteRun marks a run completed and stores its counters.
func (s *Store) CompleteRun(id int64, stats RunStats) error {
	topics := make([]string, 0, len(stats.Topics))
	for t := range stats.Topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE sync_runs
			SET status = 'completed',
			    completed_at = ?,
			    messages_found = ?,
			    messages_added = ?,
			    messages_skipped = ?,
			    attachments_saved = ?,
			    high_water_mark = ?
			WHERE id = ?
		`, formatTime(s.now()), stats.Found, stats.Added, stats.Skipped, stats.Attachments,
			formatNullTime(stats.HighWaterMark), id)
		if err != nil {
			return fmt.Errorf("complete run %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("complete run %d: no such run", id)
		}
		for _, t := range topics {
			if _, err := tx.Exec(`
				INSERT INTO run_topics (run_id, topic, messages) VALUES (?, ?, ?)
				ON CONFLICT(run_id, topic) DO UPDATE SET messages = excluded.messages
			`, id, t, stats.Topics[t]); err != nil {
				return fmt.Errorf("record topic %q: %w", t, err)
			}
		}
		return nil
	})
}

// FailRun marks a run failed with an error message.
func (s *Store) FailRun(id int64, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET status = 'failed',
		    completed_at = ?,
		    error_message = ?
		WHERE id = ?
	`, formatTime(s.now()), errMsg, id)
	return err
}

const runColumns = `id, source, started_at, completed_at, status,
	messages_found, messages_added, messages_skipped, attachments_saved,
	since, high_water_mark, error_message`

func scanRun(sc interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var startedAt string
	var completedAt, since, hwm sql.NullString
	err := sc.Scan(
		&r.ID, &r.Source, &startedAt, &completedAt, &r.Status,
		&r.MessagesFound, &r.MessagesAdded, &r.MessagesSkipped, &r.AttachmentsSaved,
		&since, &hwm, &r.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(timeLayout, startedAt)
	r.CompletedAt = parseNullTime(completedAt)
	r.Since = parseNullTime(since)
	r.HighWaterMark = parseNullTime(hwm)
	return &r, nil
}

// ListRuns returns up to limit runs, newest first, with their topic counts.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	index := make(map[int64]int)
	var ids []int64
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		index[r.ID] = len(runs)
		ids = append(ids, r.ID)
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = queryInChunks(s.db, ids,
		`SELECT run_id, topic, messages FROM run_topics WHERE run_id IN (%s) ORDER BY run_id, messages DESC, topic`,
		func(r *sql.Rows) error {
			var id int64
			var tc TopicCount
			if err := r.Scan(&id, &tc.Topic, &tc.Messages); err != nil {
				return err
			}
			runs[index[id]].Topics = append(runs[index[id]].Topics, tc)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load run topics: %w", err)
	}
	return runs, nil
}

// LastSuccessfulRun returns the newest completed run, or nil.
func (s *Store) LastSuccessfulRun() (*Run, error) {
	row := s.db.QueryRow(`SELECT ` + runColumns + ` FROM sync_runs
		WHERE status = 'completed' ORDER BY id DESC LIMIT 1`)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last successful run: %w", err)
	}
	return r, nil
}
