package api

import (
	"log/slog"

	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/state"
)

// Files serves TrackerData from the workbook and state file on disk. Every
// call reopens the files, so a sync finishing in between is picked up.
type Files struct {
	ReportPath string
	StatePath  string
	Logger     *slog.Logger
}

// Overview implements TrackerData.
func (f *Files) Overview() ([]report.Summary, error) {
	if !report.Exists(f.ReportPath) {
		return nil, nil
	}
	wb, err := report.Open(f.ReportPath)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	return wb.Overview()
}

// TopicRows implements TrackerData.
func (f *Files) TopicRows(topic string) ([]report.Row, bool, error) {
	if !report.Exists(f.ReportPath) {
		return nil, false, nil
	}
	wb, err := report.Open(f.ReportPath)
	if err != nil {
		return nil, false, err
	}
	defer wb.Close()
	return wb.Rows(topic)
}

// State implements TrackerData.
func (f *Files) State() (*StateInfo, error) {
	st := state.Load(f.StatePath, f.Logger)
	return &StateInfo{LastReceivedUTC: st.Since(), ProcessedCount: st.Len()}, nil
}
