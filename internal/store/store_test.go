package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/wesm/mailtracker/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "history.db"))
	testutil.MustNoErr(t, err, "Open")
	t.Cleanup(func() { st.Close() })
	return st
}

func fixedClock(st *Store, t0 time.Time) func(time.Duration) {
	now := t0
	st.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestRun_Lifecycle(t *testing.T) {
	st := openTestStore(t)
	advance := fixedClock(st, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	since := time.Date(2024, 4, 30, 18, 0, 0, 0, time.UTC)
	id, err := st.StartRun("graph", &since)
	testutil.MustNoErr(t, err, "StartRun")

	advance(90 * time.Second)
	hwm := time.Date(2024, 5, 1, 8, 59, 0, 0, time.UTC)
	err = st.CompleteRun(id, RunStats{
		Found: 5, Added: 3, Skipped: 2, Attachments: 4,
		HighWaterMark: &hwm,
		Topics:        map[string]int{"Alpha": 2, "Beta": 1},
	})
	testutil.MustNoErr(t, err, "CompleteRun")

	runs, err := st.ListRuns(10)
	testutil.MustNoErr(t, err, "ListRuns")
	if len(runs) != 1 {
		t.Fatalf("got %d runs", len(runs))
	}
	r := runs[0]
	if r.Status != StatusCompleted || r.Source != "graph" {
		t.Errorf("run = %+v", r)
	}
	if r.MessagesFound != 5 || r.MessagesAdded != 3 || r.MessagesSkipped != 2 || r.AttachmentsSaved != 4 {
		t.Errorf("counters = %d/%d/%d/%d", r.MessagesFound, r.MessagesAdded, r.MessagesSkipped, r.AttachmentsSaved)
	}
	if !r.Since.Valid || !r.Since.Time.Equal(since) {
		t.Errorf("Since = %+v", r.Since)
	}
	if !r.HighWaterMark.Valid || !r.HighWaterMark.Time.Equal(hwm) {
		t.Errorf("HighWaterMark = %+v", r.HighWaterMark)
	}
	if got := r.CompletedAt.Time.Sub(r.StartedAt); got != 90*time.Second {
		t.Errorf("duration = %v", got)
	}
	if len(r.Topics) != 2 || r.Topics[0] != (TopicCount{"Alpha", 2}) {
		t.Errorf("Topics = %+v", r.Topics)
	}
}

func TestRun_Fail(t *testing.T) {
	st := openTestStore(t)
	id, err := st.StartRun("imap", nil)
	testutil.MustNoErr(t, err, "StartRun")
	testutil.MustNoErr(t, st.FailRun(id, "list messages: boom"), "FailRun")

	runs, err := st.ListRuns(0)
	testutil.MustNoErr(t, err, "ListRuns")
	if runs[0].Status != StatusFailed || runs[0].ErrorMessage.String != "list messages: boom" {
		t.Errorf("run = %+v", runs[0])
	}
	if runs[0].Since.Valid {
		t.Error("Since should be NULL for a first run")
	}

	last, err := st.LastSuccessfulRun()
	testutil.MustNoErr(t, err, "LastSuccessfulRun")
	if last != nil {
		t.Errorf("LastSuccessfulRun = %+v, want nil", last)
	}
}

func TestStartRun_SupersedesStaleRun(t *testing.T) {
	st := openTestStore(t)
	stale, err := st.StartRun("graph", nil)
	testutil.MustNoErr(t, err, "StartRun stale")
	fresh, err := st.StartRun("graph", nil)
	testutil.MustNoErr(t, err, "StartRun fresh")

	runs, err := st.ListRuns(10)
	testutil.MustNoErr(t, err, "ListRuns")
	status := map[int64]string{}
	for _, r := range runs {
		status[r.ID] = r.Status
	}
	if status[stale] != StatusFailed || status[fresh] != StatusRunning {
		t.Errorf("statuses = %v", status)
	}
}

func TestListRuns_NewestFirstAndLimit(t *testing.T) {
	st := openTestStore(t)
	for i := 0; i < 5; i++ {
		id, err := st.StartRun(fmt.Sprintf("src-%d", i), nil)
		testutil.MustNoErr(t, err, "StartRun")
		testutil.MustNoErr(t, st.CompleteRun(id, RunStats{Added: int64(i)}), "CompleteRun")
	}

	runs, err := st.ListRuns(3)
	testutil.MustNoErr(t, err, "ListRuns")
	if len(runs) != 3 || runs[0].Source != "src-4" || runs[2].Source != "src-2" {
		t.Errorf("runs = %+v", runs)
	}

	last, err := st.LastSuccessfulRun()
	testutil.MustNoErr(t, err, "LastSuccessfulRun")
	if last == nil || last.Source != "src-4" {
		t.Errorf("LastSuccessfulRun = %+v", last)
	}
}

func TestCompleteRun_Unknown(t *testing.T) {
	st := openTestStore(t)
	if err := st.CompleteRun(999, RunStats{}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestGetStats(t *testing.T) {
	st := openTestStore(t)
	id, _ := st.StartRun("graph", nil)
	_ = st.FailRun(id, "x")

	stats, err := st.GetStats()
	testutil.MustNoErr(t, err, "GetStats")
	if stats.Runs != 1 || stats.FailedRuns != 1 || stats.DatabaseSize == 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestIsSQLiteError(t *testing.T) {
	valErr := fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrConstraint})
	if !isSQLiteError(valErr, "constraint failed") {
		t.Error("value form not recognised")
	}
	ptrErr := fmt.Errorf("insert: %w", &sqlite3.Error{Code: sqlite3.ErrConstraint})
	if !isSQLiteError(ptrErr, "constraint failed") {
		t.Error("pointer form not recognised")
	}
	if isSQLiteError(errors.New("no such table"), "no such table") {
		t.Error("plain error must not match")
	}
	if isSQLiteError(nil, "x") {
		t.Error("nil must not match")
	}
}
