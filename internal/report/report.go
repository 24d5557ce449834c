// Package report maintains the tracker workbook: one sheet of message rows
// per topic and an Overview sheet with per-topic statistics.
package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/wesm/mailtracker/internal/sanitize"
)

// DateLayout is how receive times are written: local time, minute precision.
const DateLayout = "2006-01-02 15:04"

// OverviewSheet is the name of the summary sheet.
const OverviewSheet = "Overview"

// TopicType is the only topic type the tracker assigns.
const TopicType = "Project"

// Yes and No are the flag values written to the workbook.
const (
	Yes = "Yes"
	No  = "No"
)

// MessageHeaders are the column titles of every topic sheet.
var MessageHeaders = []string{
	"Date/Time (Local)",
	"From (Name)",
	"From (Address)",
	"Customer Company",
	"Customer Window",
	"Subject",
	"Is Read",
	"Has Attachments",
	"Attachment Count",
	"Attachment Paths",
	"Message Id",
}

// OverviewHeaders are the column titles of the Overview sheet.
var OverviewHeaders = []string{
	"Topic",
	"Topic Type",
	"Total Emails",
	"Unread Emails",
	"With Attachments",
	"Last 7 Days",
	"Latest Mail Date",
	"Latest Sender",
	"Latest Subject",
	"Topic Folder",
}

// Row is one processed message. Flags hold Yes or No as written to the
// sheet; rows read back from a workbook carry whatever the cell contains.
type Row struct {
	Date            string
	FromName        string
	FromAddress     string
	Company         string
	Window          string
	Subject         string
	IsRead          string
	HasAttachments  string
	AttachmentCount int
	AttachmentPaths []string
	MessageID       string
}

// TopicRows is the content of one topic sheet.
type TopicRows struct {
	Topic string
	Rows  []Row
}

// Summary is one Overview line.
type Summary struct {
	Topic           string
	TopicType       string
	Total           int
	Unread          int
	WithAttachments int
	Last7Days       int
	LatestDate      time.Time // zero when no row had a parseable date
	LatestSender    string
	LatestSubject   string
	Folder          string
}

// YesNo renders a flag the way the workbook stores it.
func YesNo(b bool) string {
	if b {
		return Yes
	}
	return No
}

// FormatDate renders t in local time with DateLayout.
func FormatDate(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// SheetNameFor maps a topic label to its sheet name. Labels that differ only
// in case share a sheet.
func SheetNameFor(topic string) string {
	name := sanitize.SheetName(topic)
	// Sheet names may not start or end with an apostrophe.
	if strings.HasPrefix(name, "'") {
		name = "_" + name[1:]
	}
	if strings.HasSuffix(name, "'") {
		name = name[:len(name)-1] + "_"
	}
	if strings.EqualFold(name, OverviewSheet) {
		name += "_"
	}
	return name
}

func (r Row) cells() []any {
	return []any{
		r.Date,
		r.FromName,
		r.FromAddress,
		r.Company,
		r.Window,
		r.Subject,
		r.IsRead,
		r.HasAttachments,
		r.AttachmentCount,
		strings.Join(r.AttachmentPaths, ";"),
		r.MessageID,
	}
}

func rowFromCells(c []string) Row {
	c = pad(c, len(MessageHeaders))
	count, _ := strconv.Atoi(strings.TrimSpace(c[8]))
	var paths []string
	for _, p := range strings.Split(c[9], ";") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return Row{
		Date:            c[0],
		FromName:        c[1],
		FromAddress:     c[2],
		Company:         c[3],
		Window:          c[4],
		Subject:         c[5],
		IsRead:          c[6],
		HasAttachments:  c[7],
		AttachmentCount: count,
		AttachmentPaths: paths,
		MessageID:       c[10],
	}
}

func (s Summary) cells() []any {
	date := ""
	if !s.LatestDate.IsZero() {
		date = s.LatestDate.Format(DateLayout)
	}
	return []any{
		s.Topic,
		s.TopicType,
		s.Total,
		s.Unread,
		s.WithAttachments,
		s.Last7Days,
		date,
		s.LatestSender,
		s.LatestSubject,
		s.Folder,
	}
}

func summaryFromCells(c []string) Summary {
	c = pad(c, len(OverviewHeaders))
	num := func(s string) int {
		n, _ := strconv.Atoi(strings.TrimSpace(s))
		return n
	}
	s := Summary{
		Topic:           c[0],
		TopicType:       c[1],
		Total:           num(c[2]),
		Unread:          num(c[3]),
		WithAttachments: num(c[4]),
		Last7Days:       num(c[5]),
		LatestSender:    c[7],
		LatestSubject:   c[8],
		Folder:          c[9],
	}
	if t, ok := ParseDate(c[6]); ok {
		s.LatestDate = t
	}
	return s
}

// fallbackLayouts cover dates edited by hand in a spreadsheet program.
var fallbackLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	time.RFC3339,
}

// ParseDate parses a Date/Time (Local) cell in the local time zone.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(DateLayout, s, time.Local); err == nil {
		return t, true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func pad(c []string, n int) []string {
	for len(c) < n {
		c = append(c, "")
	}
	return c
}
