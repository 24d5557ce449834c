package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/mailtracker/internal/mail"
	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/state"
	"github.com/wesm/mailtracker/internal/store"
	"github.com/wesm/mailtracker/internal/testutil"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// TestEnv bundles a mock source and a tracker writing under a temp dir.
type TestEnv struct {
	Source *mail.MockSource
	Root   string
	Opts   *Options
	Ctx    context.Context
}

func newTestEnv(t *testing.T, pages ...[]*mail.Message) *TestEnv {
	t.Helper()
	root := t.TempDir()
	opts := OptionsForRoot(root)
	opts.Now = func() time.Time { return testNow }
	return &TestEnv{
		Source: mail.NewMockSource(pages...),
		Root:   root,
		Opts:   opts,
		Ctx:    context.Background(),
	}
}

func (e *TestEnv) tracker() *Tracker {
	return New(e.Source, e.Opts).WithLogger(slog.New(slog.DiscardHandler))
}

// MustRun runs a sync and fails the test on error.
func (e *TestEnv) MustRun(t *testing.T) *Summary {
	t.Helper()
	s, err := e.tracker().Run(e.Ctx)
	testutil.MustNoErr(t, err, "Run")
	return s
}

// Rows reads the rows of topic back from the saved workbook.
func (e *TestEnv) Rows(t *testing.T, topic string) []report.Row {
	t.Helper()
	wb, err := report.Open(e.Opts.ReportPath)
	testutil.MustNoErr(t, err, "report.Open")
	defer wb.Close()
	rows, ok, err := wb.Rows(topic)
	testutil.MustNoErr(t, err, "Rows")
	if !ok {
		t.Fatalf("sheet for %q missing", topic)
	}
	return rows
}

// Overview reads the Overview sheet back from the saved workbook.
func (e *TestEnv) Overview(t *testing.T) []report.Summary {
	t.Helper()
	wb, err := report.Open(e.Opts.ReportPath)
	testutil.MustNoErr(t, err, "report.Open")
	defer wb.Close()
	out, err := wb.Overview()
	testutil.MustNoErr(t, err, "Overview")
	return out
}

// State loads the saved state file.
func (e *TestEnv) State(t *testing.T) *state.State {
	t.Helper()
	testutil.MustExist(t, e.Opts.StatePath)
	return state.Load(e.Opts.StatePath, slog.New(slog.DiscardHandler))
}

func msg(id, subject string, received time.Time) *mail.Message {
	return &mail.Message{
		ID:         id,
		Subject:    subject,
		From:       mail.Address{Name: "Alice", Email: "alice@acme-corp.com"},
		To:         []mail.Address{{Email: "bob@globex.com"}},
		ReceivedAt: received,
	}
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC)
}

// fakeRecorder records the calls a tracker makes to its history store.
type fakeRecorder struct {
	started   []string
	since     []*time.Time
	completed []store.RunStats
	failed    []string
	startErr  error
}

func (r *fakeRecorder) StartRun(source string, since *time.Time) (int64, error) {
	if r.startErr != nil {
		return 0, r.startErr
	}
	r.started = append(r.started, source)
	r.since = append(r.since, since)
	return int64(len(r.started)), nil
}

func (r *fakeRecorder) CompleteRun(id int64, stats store.RunStats) error {
	r.completed = append(r.completed, stats)
	return nil
}

func (r *fakeRecorder) FailRun(id int64, errMsg string) error {
	r.failed = append(r.failed, errMsg)
	return nil
}

// countingProgress counts callbacks.
type countingProgress struct {
	starts    int
	progress  int
	completes int
	errors    []error
	latest    time.Time
}

func (p *countingProgress) OnStart(*time.Time)             { p.starts++ }
func (p *countingProgress) OnProgress(int64, int64, int64) { p.progress++ }
func (p *countingProgress) OnComplete(*Summary)            { p.completes++ }
func (p *countingProgress) OnError(err error)              { p.errors = append(p.errors, err) }
func (p *countingProgress) OnLatestDate(d time.Time)       { p.latest = d }

func attachmentPath(e *TestEnv, topic string, d time.Time, name string) string {
	return filepath.Join(e.Opts.AttachmentsDir, topic, d.Local().Format("2006-01-02"), name)
}
