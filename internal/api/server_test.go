package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/scheduler"
	"github.com/wesm/mailtracker/internal/state"
	"github.com/wesm/mailtracker/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type mockScheduler struct {
	status    scheduler.Status
	triggerFn func() error
	triggers  int
}

func (m *mockScheduler) TriggerSync() error {
	m.triggers++
	if m.triggerFn != nil {
		return m.triggerFn()
	}
	return nil
}

func (m *mockScheduler) Status() scheduler.Status { return m.status }

type mockRuns struct {
	runs []store.Run
	err  error
}

func (m *mockRuns) ListRuns(limit int) ([]store.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.runs[:min(limit, len(m.runs))], nil
}

type testFixture struct {
	srv   *Server
	sched *mockScheduler
	runs  *mockRuns
	files *Files
}

// newFixture writes a workbook with one topic of three rows and a state
// file, and serves them.
func newFixture(t *testing.T, apiKey string) *testFixture {
	t.Helper()
	dir := t.TempDir()
	files := &Files{
		ReportPath: filepath.Join(dir, "MailTracker.xlsx"),
		StatePath:  filepath.Join(dir, "state.json"),
		Logger:     testLogger(),
	}

	wb, err := report.Open(files.ReportPath)
	if err != nil {
		t.Fatal(err)
	}
	rows := []report.Row{
		{Date: "2024-03-01 09:00", FromAddress: "a@acme.com", Subject: "one", IsRead: report.No, HasAttachments: report.No, MessageID: "m1"},
		{Date: "2024-03-02 09:00", FromAddress: "a@acme.com", Subject: "two", IsRead: report.Yes, HasAttachments: report.Yes, AttachmentCount: 1, AttachmentPaths: []string{"/x/quote.pdf"}, MessageID: "m2"},
		{Date: "2024-03-03 09:00", FromAddress: "b@globex.com", Subject: "three", IsRead: report.No, HasAttachments: report.No, MessageID: "m3"},
	}
	if err := wb.Append("Falcon", rows); err != nil {
		t.Fatal(err)
	}
	latest := time.Date(2024, 3, 3, 9, 0, 0, 0, time.Local)
	if err := wb.WriteOverview([]report.Summary{{
		Topic: "Falcon", TopicType: report.TopicType, Total: 3, Unread: 2, WithAttachments: 1,
		LatestDate: latest, LatestSender: "b@globex.com", LatestSubject: "three", Folder: filepath.Join(dir, "Attachments", "Falcon"),
	}}); err != nil {
		t.Fatal(err)
	}
	if err := wb.Save(); err != nil {
		t.Fatal(err)
	}
	_ = wb.Close()

	st := &state.State{}
	st.MarkProcessed("m1", time.Date(2024, 3, 3, 8, 0, 0, 0, time.UTC))
	st.MarkProcessed("m2", time.Time{})
	if err := state.Save(files.StatePath, st); err != nil {
		t.Fatal(err)
	}

	sched := &mockScheduler{status: scheduler.Status{Running: true, Schedule: "*/30 * * * *"}}
	runs := &mockRuns{}
	cfg := config.ServerConfig{APIPort: 8080, BindAddr: "127.0.0.1", APIKey: apiKey}
	srv := NewServer(cfg, files, runs, sched, testLogger())
	t.Cleanup(srv.limiter.Close)
	return &testFixture{srv: srv, sched: sched, runs: runs, files: files}
}

func (f *testFixture) do(t *testing.T, method, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "secret")
	w := f.do(t, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret")
	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", []string{"Authorization", "Bearer secret"}, http.StatusOK},
		{"x-api-key", []string{"X-API-Key", "secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/state", tt.header...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNoKeyAllowsAll(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do(t, http.MethodGet, "/api/v1/state"); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListTopics(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/topics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Topics []TopicSummary `json:"topics"`
	}](t, w)
	if len(resp.Topics) != 1 {
		t.Fatalf("topics = %+v", resp.Topics)
	}
	got := resp.Topics[0]
	if got.Topic != "Falcon" || got.Total != 3 || got.Unread != 2 || got.LatestDate != "2024-03-03 09:00" {
		t.Errorf("topic = %+v", got)
	}
}

func TestListTopicsWithoutWorkbook(t *testing.T) {
	f := newFixture(t, "")
	f.files.ReportPath = filepath.Join(t.TempDir(), "missing.xlsx")
	w := f.do(t, http.MethodGet, "/api/v1/topics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"topics":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestTopicMessages(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/topics/falcon/messages?page=2&page_size=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Total    int          `json:"total"`
		Page     int          `json:"page"`
		Messages []MessageRow `json:"messages"`
	}](t, w)
	if resp.Total != 3 || resp.Page != 2 {
		t.Errorf("total = %d page = %d", resp.Total, resp.Page)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].MessageID != "m3" {
		t.Errorf("messages = %+v", resp.Messages)
	}

	w = f.do(t, http.MethodGet, "/api/v1/topics/falcon/messages?page=9")
	resp = decode[struct {
		Total    int          `json:"total"`
		Page     int          `json:"page"`
		Messages []MessageRow `json:"messages"`
	}](t, w)
	if len(resp.Messages) != 0 {
		t.Errorf("page past the end returned %d rows", len(resp.Messages))
	}

	for _, q := range []string{"page=9223372036854775807", "page=4611686018427387904&page_size=500"} {
		w = f.do(t, http.MethodGet, "/api/v1/topics/falcon/messages?"+q)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d: %s", q, w.Code, w.Body.String())
		}
		resp = decode[struct {
			Total    int          `json:"total"`
			Page     int          `json:"page"`
			Messages []MessageRow `json:"messages"`
		}](t, w)
		if resp.Total != 3 || len(resp.Messages) != 0 {
			t.Errorf("%s: total = %d messages = %d", q, resp.Total, len(resp.Messages))
		}
	}
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page, size, n int
		start, end    int
	}{
		{1, 50, 0, 0, 0},
		{1, 2, 3, 0, 2},
		{2, 2, 3, 2, 3},
		{3, 2, 3, 3, 3},
		{math.MaxInt, 500, 3, 3, 3},
		{math.MaxInt/2 + 1, 2, 3, 3, 3},
	}
	for _, tt := range tests {
		start, end := pageBounds(tt.page, tt.size, tt.n)
		if start != tt.start || end != tt.end {
			t.Errorf("pageBounds(%d, %d, %d) = %d, %d; want %d, %d", tt.page, tt.size, tt.n, start, end, tt.start, tt.end)
		}
	}
}

func TestTopicMessagesNotFound(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do(t, http.MethodGet, "/api/v1/topics/Eagle/messages"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestState(t *testing.T) {
	f := newFixture(t, "")
	resp := decode[StateInfo](t, f.do(t, http.MethodGet, "/api/v1/state"))
	if resp.ProcessedCount != 2 {
		t.Errorf("ProcessedCount = %d", resp.ProcessedCount)
	}
	if resp.LastReceivedUTC == nil || !resp.LastReceivedUTC.Equal(time.Date(2024, 3, 3, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("LastReceivedUTC = %v", resp.LastReceivedUTC)
	}
}

func TestListRuns(t *testing.T) {
	f := newFixture(t, "")
	started := time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)
	f.runs.runs = []store.Run{{
		ID: 7, Source: "graph:me", Status: store.StatusCompleted, StartedAt: started,
		CompletedAt:   sql.NullTime{Time: started.Add(time.Minute), Valid: true},
		MessagesAdded: 3,
		Topics:        []store.TopicCount{{Topic: "Falcon", Messages: 3}},
	}}

	resp := decode[struct {
		Runs []RunInfo `json:"runs"`
	}](t, f.do(t, http.MethodGet, "/api/v1/runs"))
	if len(resp.Runs) != 1 {
		t.Fatalf("runs = %+v", resp.Runs)
	}
	r := resp.Runs[0]
	if r.ID != 7 || r.CompletedAt != "2024-03-03T09:01:00Z" || r.Topics["Falcon"] != 3 || r.Error != "" {
		t.Errorf("run = %+v", r)
	}

	f.runs.err = errors.New("db gone")
	if w := f.do(t, http.MethodGet, "/api/v1/runs"); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListRunsWithoutStore(t *testing.T) {
	srv := NewServer(config.ServerConfig{}, &Files{}, nil, nil, testLogger())
	defer srv.limiter.Close()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func TestTriggerSync(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do(t, http.MethodPost, "/api/v1/sync"); w.Code != http.StatusAccepted {
		t.Errorf("status = %d", w.Code)
	}
	if f.sched.triggers != 1 {
		t.Errorf("triggers = %d", f.sched.triggers)
	}

	f.sched.triggerFn = func() error { return scheduler.ErrAlreadyRunning }
	if w := f.do(t, http.MethodPost, "/api/v1/sync"); w.Code != http.StatusConflict {
		t.Errorf("status while running = %d", w.Code)
	}

	f.sched.triggerFn = func() error { return scheduler.ErrStopped }
	if w := f.do(t, http.MethodPost, "/api/v1/sync"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status after stop = %d", w.Code)
	}
}

func TestSchedulerStatus(t *testing.T) {
	f := newFixture(t, "")
	resp := decode[scheduler.Status](t, f.do(t, http.MethodGet, "/api/v1/scheduler/status"))
	if !resp.Running || resp.Schedule != "*/30 * * * *" {
		t.Errorf("status = %+v", resp)
	}
}

func TestStartRefusesOpenBindWithoutKey(t *testing.T) {
	srv := NewServer(config.ServerConfig{APIPort: 8080, BindAddr: "0.0.0.0"}, &Files{}, nil, nil, testLogger())
	if err := srv.Start(); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("Start() = %v", err)
	}
	srv.limiter.Close()
}

func TestAddr(t *testing.T) {
	srv := NewServer(config.ServerConfig{APIPort: 9090}, &Files{}, nil, nil, testLogger())
	defer srv.limiter.Close()
	if got := srv.Addr(); got != "127.0.0.1:9090" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestIsLoopback(t *testing.T) {
	for host, want := range map[string]bool{
		"":          true,
		"localhost": true,
		"127.0.0.1": true,
		"::1":       true,
		"0.0.0.0":   false,
		"10.0.0.5":  false,
	} {
		if got := isLoopback(host); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", host, got, want)
		}
	}
}
