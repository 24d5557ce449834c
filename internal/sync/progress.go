package sync

import "time"

// Progress receives updates while a run is in flight.
type Progress interface {
	// OnStart is called once; since is the high-water mark the run fetches
	// from, nil on a first run.
	OnStart(since *time.Time)

	// OnProgress is called after every page.
	OnProgress(found, added, skipped int64)

	// OnComplete is called when the report and state are saved.
	OnComplete(summary *Summary)

	// OnError is called when the run aborts.
	OnError(err error)
}

// ProgressWithDate is an optional extension of Progress that learns the
// receive time of the newest message processed so far.
type ProgressWithDate interface {
	Progress
	OnLatestDate(date time.Time)
}

// NullProgress discards all updates.
type NullProgress struct{}

func (NullProgress) OnStart(*time.Time) {}
func (NullProgress) OnProgress(int64, int64, int64) {}
func (NullProgress) OnComplete(*Summary) {}
func (NullProgress) OnError(error) {}
func (NullProgress) OnLatestDate(time.Time) {}

// Summary describes a finished run.
type Summary struct {
	Source           string
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
	MessagesFound    int64
	MessagesAdded    int64
	MessagesSkipped  int64
	AttachmentsSaved int64
	// TopicCounts holds the messages added per topic in this run.
	TopicCounts map[string]int
	// HighWaterMark is the state's mark after the run, nil when still unset.
	HighWaterMark *time.Time
	ReportPath    string
}
