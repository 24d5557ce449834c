package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wesm/mailtracker/internal/report"
)

// Column indexes of the overview table.
const (
	colTopic = iota
	colTotal
	colUnread
	colAttach
	colLast7
	colLatest
	colSender
	colSubject
)

var overviewHeaders = []string{"Topic", "Total", "Unread", "Attach", "7d", "Latest", "Sender", "Subject"}

// OverviewOptions controls RenderOverview.
type OverviewOptions struct {
	// Width is the terminal width; 0 means unlimited.
	Width int
	// Title is printed above the table when set.
	Title string
}

// RenderOverview draws the overview summaries as a table. Text columns are
// truncated so the table fits Width.
func RenderOverview(summaries []report.Summary, opts OverviewOptions) string {
	var b strings.Builder
	if opts.Title != "" {
		b.WriteString(titleStyle.Render(opts.Title))
		b.WriteString("\n")
	}
	if len(summaries) == 0 {
		b.WriteString(mutedStyle.Render("No topics yet. Run 'mailtracker sync' first."))
		b.WriteString("\n")
		return b.String()
	}

	topicW, senderW, subjectW := columnWidths(opts.Width)
	rows := make([][]string, 0, len(summaries))
	var total, unread int
	for _, s := range summaries {
		latest := ""
		if !s.LatestDate.IsZero() {
			latest = s.LatestDate.Format(report.DateLayout)
		}
		rows = append(rows, []string{
			Truncate(s.Topic, topicW),
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Unread),
			strconv.Itoa(s.WithAttachments),
			strconv.Itoa(s.Last7Days),
			latest,
			Truncate(s.LatestSender, senderW),
			Truncate(s.LatestSubject, subjectW),
		})
		total += s.Total
		unread += s.Unread
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(overviewHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == colUnread && rows[row][colUnread] != "0":
				return unreadStyle
			case col >= colTotal && col <= colLast7:
				return numberStyle
			default:
				return cellStyle
			}
		})

	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d topics, %d messages, %d unread", len(summaries), total, unread)))
	b.WriteString("\n")
	return b.String()
}

// columnWidths shares the space left after the fixed columns between topic,
// sender and subject.
func columnWidths(width int) (topic, sender, subject int) {
	if width <= 0 {
		return 31, 40, 60
	}
	// Numbers, date, borders and padding take about 60 cells.
	free := max(width-60, 30)
	topic = min(31, free*3/10)
	sender = min(40, free*3/10)
	subject = free - topic - sender
	return topic, sender, subject
}
