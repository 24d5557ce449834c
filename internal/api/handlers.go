package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/scheduler"
	"github.com/wesm/mailtracker/internal/store"
)

// TopicSummary is one Overview line.
type TopicSummary struct {
	Topic           string `json:"topic"`
	TopicType       string `json:"topic_type"`
	Total           int    `json:"total"`
	Unread          int    `json:"unread"`
	WithAttachments int    `json:"with_attachments"`
	Last7Days       int    `json:"last_7_days"`
	LatestDate      string `json:"latest_date,omitempty"`
	LatestSender    string `json:"latest_sender,omitempty"`
	LatestSubject   string `json:"latest_subject,omitempty"`
	Folder          string `json:"folder"`
}

// MessageRow is one row of a topic sheet.
type MessageRow struct {
	Date            string   `json:"date"`
	FromName        string   `json:"from_name"`
	FromAddress     string   `json:"from_address"`
	Company         string   `json:"company"`
	Window          string   `json:"window"`
	Subject         string   `json:"subject"`
	IsRead          string   `json:"is_read"`
	HasAttachments  string   `json:"has_attachments"`
	AttachmentCount int      `json:"attachment_count"`
	AttachmentPaths []string `json:"attachment_paths"`
	MessageID       string   `json:"message_id"`
}

// StateInfo describes the sync checkpoint.
type StateInfo struct {
	LastReceivedUTC *time.Time `json:"last_received_utc"`
	ProcessedCount  int        `json:"processed_count"`
}

// RunInfo is one recorded sync run.
type RunInfo struct {
	ID               int64          `json:"id"`
	Source           string         `json:"source"`
	Status           string         `json:"status"`
	StartedAt        string         `json:"started_at"`
	CompletedAt      string         `json:"completed_at,omitempty"`
	MessagesFound    int64          `json:"messages_found"`
	MessagesAdded    int64          `json:"messages_added"`
	MessagesSkipped  int64          `json:"messages_skipped"`
	AttachmentsSaved int64          `json:"attachments_saved"`
	HighWaterMark    string         `json:"high_water_mark,omitempty"`
	Error            string         `json:"error,omitempty"`
	Topics           map[string]int `json:"topics,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// pagination reads page and page_size, defaulting to 1 and 50.
func pagination(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if size < 1 || size > 500 {
		size = 50
	}
	return page, size
}

// pageBounds returns the slice bounds of page within n rows. Pages past the
// end are empty.
func pageBounds(page, size, n int) (start, end int) {
	if page-1 >= (n+size-1)/size {
		return n, n
	}
	start = (page - 1) * size
	return start, min(start+size, n)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.data.Overview()
	if err != nil {
		s.logger.Error("failed to read overview", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read workbook")
		return
	}
	topics := make([]TopicSummary, 0, len(summaries))
	for _, su := range summaries {
		ts := TopicSummary{
			Topic:           su.Topic,
			TopicType:       su.TopicType,
			Total:           su.Total,
			Unread:          su.Unread,
			WithAttachments: su.WithAttachments,
			Last7Days:       su.Last7Days,
			LatestSender:    su.LatestSender,
			LatestSubject:   su.LatestSubject,
			Folder:          su.Folder,
		}
		if !su.LatestDate.IsZero() {
			ts.LatestDate = su.LatestDate.Format(report.DateLayout)
		}
		topics = append(topics, ts)
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (s *Server) handleTopicMessages(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	rows, found, err := s.data.TopicRows(topic)
	if err != nil {
		s.logger.Error("failed to read topic", "topic", topic, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read workbook")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "Topic not found")
		return
	}

	page, size := pagination(r)
	start, end := pageBounds(page, size, len(rows))

	messages := make([]MessageRow, 0, end-start)
	for _, row := range rows[start:end] {
		messages = append(messages, MessageRow{
			Date:            row.Date,
			FromName:        row.FromName,
			FromAddress:     row.FromAddress,
			Company:         row.Company,
			Window:          row.Window,
			Subject:         row.Subject,
			IsRead:          row.IsRead,
			HasAttachments:  row.HasAttachments,
			AttachmentCount: row.AttachmentCount,
			AttachmentPaths: row.AttachmentPaths,
			MessageID:       row.MessageID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":     topic,
		"total":     len(rows),
		"page":      page,
		"page_size": size,
		"messages":  messages,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.data.State()
	if err != nil {
		s.logger.Error("failed to read state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Run history not available")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 20
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve runs")
		return
	}
	out := make([]RunInfo, 0, len(runs))
	for _, run := range runs {
		out = append(out, runInfo(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func runInfo(run store.Run) RunInfo {
	info := RunInfo{
		ID:               run.ID,
		Source:           run.Source,
		Status:           run.Status,
		StartedAt:        run.StartedAt.UTC().Format(time.RFC3339),
		MessagesFound:    run.MessagesFound,
		MessagesAdded:    run.MessagesAdded,
		MessagesSkipped:  run.MessagesSkipped,
		AttachmentsSaved: run.AttachmentsSaved,
	}
	if run.CompletedAt.Valid {
		info.CompletedAt = run.CompletedAt.Time.UTC().Format(time.RFC3339)
	}
	if run.HighWaterMark.Valid {
		info.HighWaterMark = run.HighWaterMark.Time.UTC().Format(time.RFC3339)
	}
	if run.ErrorMessage.Valid {
		info.Error = run.ErrorMessage.String
	}
	if len(run.Topics) > 0 {
		info.Topics = make(map[string]int, len(run.Topics))
		for _, tc := range run.Topics {
			info.Topics[tc.Topic] = tc.Messages
		}
	}
	return info
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not running")
		return
	}
	err := s.sched.TriggerSync()
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "sync_running", err.Error())
		return
	case err != nil:
		s.logger.Error("failed to trigger sync", "error", err)
		writeError(w, http.StatusServiceUnavailable, "sync_error", err.Error())
		return
	}
	s.logger.Info("sync triggered via API")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Sync started",
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusOK, scheduler.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Status())
}
