package mbox

import (
	"strings"
	"time"
)

// ctime-style layouts seen on separator lines, with and without weekday,
// seconds and zone.
var separatorLayouts = func() []string {
	var out []string
	for _, day := range []string{"Mon Jan 2", "Jan 2"} {
		for _, clock := range []string{"15:04:05", "15:04"} {
			base := day + " " + clock
			out = append(out,
				base+" 2006",
				base+" -0700 2006",
				base+" MST 2006",
				base+" 2006 -0700",
				base+" 2006 MST",
			)
		}
	}
	return out
}()

// zones maps the abbreviations mbox writers commonly emit to their offsets.
// Other abbreviations parse as UTC.
var zones = map[string]int{
	"UT": 0, "UTC": 0, "GMT": 0, "Z": 0,
	"EST": -5, "EDT": -4, "CST": -6, "CDT": -5,
	"MST": -7, "MDT": -6, "PST": -8, "PDT": -7,
}

// ParseFromSeparatorDate parses the date of "From <sender> <date> [...]".
// Trailing tokens such as "remote from host" are ignored.
func ParseFromSeparatorDate(line string) (time.Time, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 || fields[0] != "From" {
		return time.Time{}, false
	}
	for _, layout := range separatorLayouts {
		n := strings.Count(layout, " ") + 1
		if len(fields) < 2+n {
			continue
		}
		zoned := strings.Contains(layout, "MST") || strings.Contains(layout, "-0700")
		if !zoned && len(fields) > 2+n && isZoneToken(fields[2+n]) {
			continue
		}
		t, err := time.Parse(layout, strings.Join(fields[2:2+n], " "))
		if err != nil {
			continue
		}
		if name, off := t.Zone(); off == 0 && name != "" && name != "UTC" {
			if h, ok := zones[strings.ToUpper(name)]; ok {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.FixedZone(name, h*3600))
			}
		}
		return t, true
	}
	return time.Time{}, false
}

func isZoneToken(s string) bool {
	if _, ok := zones[strings.ToUpper(s)]; ok {
		return true
	}
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
