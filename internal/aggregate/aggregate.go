// Package aggregate computes the Overview statistics from topic rows.
package aggregate

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/sanitize"
)

// RecentWindow is the span counted as "Last 7 Days".
const RecentWindow = 7 * 24 * time.Hour

// Summarize builds one summary per topic. Unread counts rows whose read
// flag is "No"; with-attachments counts rows whose flag is "Yes". Rows dated
// after now are not recent. The latest row is the first one holding the
// greatest parseable date. Results are ordered newest first; topics without
// any parseable date come last.
func Summarize(topics []report.TopicRows, now time.Time, attachRoot string) []report.Summary {
	out := make([]report.Summary, 0, len(topics))
	for _, t := range topics {
		s := report.Summary{
			Topic:     t.Topic,
			TopicType: report.TopicType,
			Total:     len(t.Rows),
			Folder:    folder(t, attachRoot),
		}
		for _, r := range t.Rows {
			if strings.EqualFold(strings.TrimSpace(r.IsRead), report.No) {
				s.Unread++
			}
			if strings.EqualFold(strings.TrimSpace(r.HasAttachments), report.Yes) {
				s.WithAttachments++
			}
			d, ok := report.ParseDate(r.Date)
			if !ok {
				continue
			}
			if !d.After(now) && now.Sub(d) <= RecentWindow {
				s.Last7Days++
			}
			if d.After(s.LatestDate) {
				s.LatestDate = d
				s.LatestSender = r.FromName
				s.LatestSubject = r.Subject
			}
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LatestDate, out[j].LatestDate
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.After(b)
	})
	return out
}

// folder returns the topic directory holding the saved attachments. Files
// live at <folder>/<YYYY-MM-DD>/<name>, and the sheet name can differ from
// the directory once it is shortened for Excel, so the first recorded path
// wins over the name.
func folder(t report.TopicRows, attachRoot string) string {
	for _, r := range t.Rows {
		for _, p := range r.AttachmentPaths {
			if p = strings.TrimSpace(p); p != "" {
				return filepath.Dir(filepath.Dir(p))
			}
		}
	}
	return filepath.Join(attachRoot, sanitize.PathSegment(t.Topic))
}
