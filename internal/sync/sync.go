// Package sync runs one incremental pass over a mailbox: it fetches messages
// newer than the saved high-water mark, classifies them into topics, saves
// their attachments, appends them to the workbook, recomputes the Overview
// and finally saves the new state.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/wesm/mailtracker/internal/aggregate"
	"github.com/wesm/mailtracker/internal/attachments"
	"github.com/wesm/mailtracker/internal/classify"
	"github.com/wesm/mailtracker/internal/fileutil"
	"github.com/wesm/mailtracker/internal/mail"
	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/state"
	"github.com/wesm/mailtracker/internal/store"
)

// ErrNoSource is returned by Run when the tracker has no mail source.
var ErrNoSource = errors.New("no mail source configured")

// Report is the workbook the tracker writes to.
type Report interface {
	Append(topic string, rows []report.Row) error
	TopicRows() ([]report.TopicRows, error)
	WriteOverview(summaries []report.Summary) error
	Save() error
	Close() error
}

// Recorder keeps a history of runs. Recorder failures never fail a run.
type Recorder interface {
	StartRun(source string, since *time.Time) (int64, error)
	CompleteRun(id int64, stats store.RunStats) error
	FailRun(id int64, errMsg string) error
}

// Options configures a Tracker.
type Options struct {
	// PageSize is the number of messages requested per page (default 100).
	PageSize int

	// AttachmentsDir, ReportPath and StatePath locate the outputs.
	AttachmentsDir string
	ReportPath     string
	StatePath      string

	// Now returns the wall clock; tests pin it.
	Now func() time.Time

	// OpenReport opens the workbook; defaults to report.Open.
	OpenReport func(path string) (Report, error)
}

// DefaultOptions returns options with default page size and clock.
func DefaultOptions() *Options {
	return &Options{
		PageSize: 100,
		Now:      time.Now,
	}
}

// OptionsForRoot lays the outputs out under root the way the CLI does.
func OptionsForRoot(root string) *Options {
	opts := DefaultOptions()
	opts.AttachmentsDir = filepath.Join(root, "Attachments")
	opts.ReportPath = filepath.Join(root, "MailTracker.xlsx")
	opts.StatePath = filepath.Join(root, "state.json")
	return opts
}

// Tracker performs sync runs against one source.
type Tracker struct {
	source     mail.Source
	classifier *classify.Classifier
	files      *attachments.Store
	logger     *slog.Logger
	progress   Progress
	recorder   Recorder
	opts       *Options
}

// New creates a Tracker.
func New(source mail.Source, opts *Options) *Tracker {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OpenReport == nil {
		opts.OpenReport = func(path string) (Report, error) { return report.Open(path) }
	}
	return &Tracker{
		source:     source,
		classifier: classify.New(),
		files:      attachments.New(opts.AttachmentsDir),
		logger:     slog.Default(),
		progress:   NullProgress{},
		opts:       opts,
	}
}

// WithLogger sets the logger.
func (t *Tracker) WithLogger(logger *slog.Logger) *Tracker {
	t.logger = logger
	return t
}

// WithProgress sets the progress reporter.
func (t *Tracker) WithProgress(p Progress) *Tracker {
	t.progress = p
	return t
}

// WithRecorder records every run in a history store.
func (t *Tracker) WithRecorder(r Recorder) *Tracker {
	t.recorder = r
	return t
}

// WithClassifier replaces the default topic rules.
func (t *Tracker) WithClassifier(c *classify.Classifier) *Tracker {
	t.classifier = c
	return t
}

// Run performs one sync. On error the state file is left as it was, so the
// next run retries every message that was not saved.
func (t *Tracker) Run(ctx context.Context) (*Summary, error) {
	if t.source == nil {
		return nil, ErrNoSource
	}

	st := state.Load(t.opts.StatePath, t.logger)
	since := st.Since()
	runID := t.recordStart(since)

	summary, err := t.run(ctx, st, since)
	if err != nil {
		t.progress.OnError(err)
		t.recordFailure(runID, err)
		return nil, err
	}

	t.recordCompletion(runID, summary)
	t.progress.OnComplete(summary)
	return summary, nil
}

func (t *Tracker) run(ctx context.Context, st *state.State, since *time.Time) (*Summary, error) {
	summary := &Summary{
		Source:      t.source.Name(),
		StartTime:   t.opts.Now(),
		TopicCounts: make(map[string]int),
		ReportPath:  t.opts.ReportPath,
	}
	t.progress.OnStart(since)
	if since == nil {
		t.logger.Info("first run, fetching all messages", "source", summary.Source)
	} else {
		t.logger.Info("fetching messages", "source", summary.Source, "since", since.Format(time.RFC3339))
	}

	var topics buckets
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := t.source.ListMessages(ctx, mail.ListOptions{
			Since:     since,
			PageSize:  t.opts.PageSize,
			PageToken: pageToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		var newest time.Time
		for _, msg := range page.Messages {
			summary.MessagesFound++
			if msg.ID == "" {
				t.logger.Warn("skipping message without id", "subject", msg.Subject)
				summary.MessagesSkipped++
				continue
			}
			if st.Processed(msg.ID) {
				summary.MessagesSkipped++
				continue
			}

			label, row, saved, err := t.process(ctx, msg, &topics)
			if err != nil {
				return nil, err
			}
			topics.add(label, row)
			st.MarkProcessed(msg.ID, msg.ReceivedAt)

			summary.MessagesAdded++
			summary.AttachmentsSaved += int64(saved)
			summary.TopicCounts[label]++
			if msg.ReceivedAt.After(newest) {
				newest = msg.ReceivedAt
			}
		}

		if !newest.IsZero() {
			if p, ok := t.progress.(ProgressWithDate); ok {
				p.OnLatestDate(newest)
			}
		}
		t.progress.OnProgress(summary.MessagesFound, summary.MessagesAdded, summary.MessagesSkipped)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if err := t.writeReport(topics); err != nil {
		return nil, err
	}

	if err := fileutil.MkdirAll(filepath.Dir(t.opts.StatePath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := state.Save(t.opts.StatePath, st); err != nil {
		return nil, err
	}

	summary.HighWaterMark = st.Since()
	summary.EndTime = t.opts.Now()
	summary.Duration = summary.EndTime.Sub(summary.StartTime)
	t.logger.Info("run complete",
		"found", summary.MessagesFound,
		"added", summary.MessagesAdded,
		"skipped", summary.MessagesSkipped,
		"attachments", summary.AttachmentsSaved)
	return summary, nil
}

// process classifies msg, saves its attachments and builds its row. It
// returns the bucket label the row belongs to and the number of files saved.
func (t *Tracker) process(ctx context.Context, msg *mail.Message, topics *buckets) (string, report.Row, int, error) {
	label := topics.label(t.classifier.Classify(msg.Subject, msg.BodyPreview, msg.From.Email))

	received := msg.ReceivedAt
	if received.IsZero() {
		received = t.opts.Now()
	}

	var paths []string
	if msg.HasAttachments {
		files, err := t.source.Attachments(ctx, msg)
		if err != nil {
			return "", report.Row{}, 0, fmt.Errorf("fetch attachments of %s: %w", msg.ID, err)
		}
		for _, f := range files {
			p, err := t.files.Save(label, received, f.Name, f.Content)
			if err != nil {
				return "", report.Row{}, 0, err
			}
			paths = append(paths, p)
		}
	}

	t.logger.Debug("message classified", "id", msg.ID, "topic", label, "attachments", len(paths))
	return label, report.Row{
		Date:            report.FormatDate(received),
		FromName:        msg.From.Name,
		FromAddress:     msg.From.Email,
		Company:         classify.DeriveCompany(msg.From.Email),
		Window:          classify.DeriveWindow(msg.From.Email, mail.Emails(msg.To), mail.Emails(msg.Cc)),
		Subject:         msg.Subject,
		IsRead:          report.YesNo(msg.IsRead),
		HasAttachments:  report.YesNo(msg.HasAttachments),
		AttachmentCount: len(paths),
		AttachmentPaths: paths,
		MessageID:       msg.ID,
	}, len(paths), nil
}

// writeReport appends the new rows, recomputes the Overview from every row
// in the workbook and saves it. It runs even when no message was new so the
// Last 7 Days column stays current.
func (t *Tracker) writeReport(topics buckets) error {
	rep, err := t.opts.OpenReport(t.opts.ReportPath)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer rep.Close()

	for _, b := range topics.list {
		if err := rep.Append(b.label, b.rows); err != nil {
			return fmt.Errorf("append topic %q: %w", b.label, err)
		}
	}
	all, err := rep.TopicRows()
	if err != nil {
		return fmt.Errorf("read back report: %w", err)
	}
	summaries := aggregate.Summarize(all, t.opts.Now(), t.opts.AttachmentsDir)
	if err := rep.WriteOverview(summaries); err != nil {
		return fmt.Errorf("write overview: %w", err)
	}
	if err := rep.Save(); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (t *Tracker) recordStart(since *time.Time) int64 {
	if t.recorder == nil {
		return 0
	}
	id, err := t.recorder.StartRun(t.source.Name(), since)
	if err != nil {
		t.logger.Warn("failed to record run start", "error", err)
		return 0
	}
	return id
}

func (t *Tracker) recordFailure(id int64, runErr error) {
	if t.recorder == nil || id == 0 {
		return
	}
	if err := t.recorder.FailRun(id, runErr.Error()); err != nil {
		t.logger.Warn("failed to record run failure", "error", err)
	}
}

func (t *Tracker) recordCompletion(id int64, s *Summary) {
	if t.recorder == nil || id == 0 {
		return
	}
	err := t.recorder.CompleteRun(id, store.RunStats{
		Found:         s.MessagesFound,
		Added:         s.MessagesAdded,
		Skipped:       s.MessagesSkipped,
		Attachments:   s.AttachmentsSaved,
		HighWaterMark: s.HighWaterMark,
		Topics:        s.TopicCounts,
	})
	if err != nil {
		t.logger.Warn("failed to record run completion", "error", err)
	}
}

// buckets groups rows by topic. Labels match case-insensitively and keep
// the spelling seen first.
type buckets struct {
	index map[string]int
	list  []bucket
}

type bucket struct {
	label string
	rows  []report.Row
}

func (b *buckets) label(topic string) string {
	if i, ok := b.index[strings.ToLower(topic)]; ok {
		return b.list[i].label
	}
	return topic
}

func (b *buckets) add(topic string, row report.Row) {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	key := strings.ToLower(topic)
	i, ok := b.index[key]
	if !ok {
		i = len(b.list)
		b.index[key] = i
		b.list = append(b.list, bucket{label: topic})
	}
	b.list[i].rows = append(b.list[i].rows, row)
}
