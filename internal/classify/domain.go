// Package classify derives the reporting metadata of a message: its topic,
// the sender's company and the dominant counterparty domain ("window").
package classify

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ExtractDomain returns the part of addr after the first '@', or "" when
// there is no '@' or nothing follows it. The domain is not validated.
func ExtractDomain(addr string) string {
	i := strings.IndexByte(addr, '@')
	if i < 0 || i == len(addr)-1 {
		return ""
	}
	return addr[i+1:]
}

// DeriveCompany guesses a company name from an address: the first label of
// a multi-label domain (the whole domain otherwise), hyphens as spaces,
// title-cased. "alice@sub.example.com" yields "Sub".
func DeriveCompany(addr string) string {
	return companyFromDomain(ExtractDomain(addr))
}

// DeriveWindow returns the title-cased first label of the most frequent
// recipient domain in to and cc that differs (case-insensitively) from the
// sender's domain.
// Ties go to the domain seen first, To before Cc in list order. It returns
// "" when every recipient shares the sender's domain.
func DeriveWindow(from string, to, cc []string) string {
	own := ExtractDomain(from)

	counts := make(map[string]int)
	var order []string
	for _, list := range [][]string{to, cc} {
		for _, addr := range list {
			d := ExtractDomain(addr)
			if strings.TrimSpace(d) == "" || strings.EqualFold(d, own) {
				continue
			}
			if counts[d] == 0 {
				order = append(order, d)
			}
			counts[d]++
		}
	}

	best := ""
	for _, d := range order {
		if counts[d] > counts[best] {
			best = d
		}
	}
	if best == "" {
		return ""
	}
	// Unlike the company column, hyphens stay: big-co.com is "Big-Co".
	return TitleCase(firstLabel(best))
}

func companyFromDomain(domain string) string {
	if strings.TrimSpace(domain) == "" {
		return ""
	}
	return TitleCase(strings.ReplaceAll(firstLabel(domain), "-", " "))
}

func firstLabel(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	return label
}

// TitleCase upper-cases the first letter of every word and leaves the rest
// of each word as written, independent of the process locale.
func TitleCase(s string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Title(language.Und, cases.NoLower).String(s)
}
