package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Uncategorized is the topic of a message nothing else could be derived for.
const Uncategorized = "Uncategorized"

// Selector picks the candidate topic from the capture groups of a match.
// groups excludes the whole-match group 0; unmatched groups are "".
type Selector func(groups []string) string

// LongestCapture selects the longest non-blank capture group. The first one
// wins among equally long groups.
func LongestCapture(groups []string) string {
	best := ""
	for _, g := range groups {
		if strings.TrimSpace(g) == "" {
			continue
		}
		if utf8.RuneCountInString(g) > utf8.RuneCountInString(best) {
			best = g
		}
	}
	return best
}

// Rule is one entry of the classification cascade.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Select  Selector // nil means LongestCapture
}

// DefaultRules is the cascade in priority order: bracketed text, then
// parenthesised text, then project codes, then document numbers.
var DefaultRules = []Rule{
	{Name: "brackets", Pattern: regexp.MustCompile(`\[(.*?)\]`)},
	{Name: "parens", Pattern: regexp.MustCompile(`\((.*?)\)`)},
	{Name: "project", Pattern: regexp.MustCompile(`(?i)\b(?:PRJ|PROJ|PROJECT)[:\s\-]+([A-Za-z0-9._\-]+)`)},
	// The keyword must stand alone: "INV-9981", "INV9981" and "PO 77" match,
	// "Invoice" and "Polish" do not.
	{Name: "document", Pattern: regexp.MustCompile(`(?i)\b(?:RFQ|PO|INV|BOM)(?:[\-_\s]+([A-Za-z0-9._\-]+)|([0-9][A-Za-z0-9._\-]*))`)},
}

var (
	outerPair = regexp.MustCompile(`^\s*(?:\[\s*(.*?)\s*\]|\(\s*(.*?)\s*\))\s*$`)
	edgePunct = regexp.MustCompile(`^[#_\-:\s]+|[#_\-:\s]+$`)
)

// Classifier assigns a topic to a message by running an ordered list of
// rules over its subject and body preview.
type Classifier struct {
	rules []Rule
}

// New returns a classifier over rules; with no rules it uses DefaultRules.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Match reports the rule that produced a topic. Rule is "" for the company
// and Uncategorized fallbacks.
type Match struct {
	Topic  string
	Rule   string
	Source string // "subject", "preview", "sender" or ""
}

// Classify returns the topic for a message.
func (c *Classifier) Classify(subject, preview, from string) string {
	return c.Explain(subject, preview, from).Topic
}

// Explain classifies a message and reports which rule and field decided.
// Each rule is tried on the subject and then on the preview before the next
// rule is considered; the first hit ends the cascade.
func (c *Classifier) Explain(subject, preview, from string) Match {
	for _, r := range c.rules {
		for _, field := range [2]struct{ name, text string }{{"subject", subject}, {"preview", preview}} {
			if cand, ok := r.apply(field.text); ok {
				return Match{Topic: Clean(cand), Rule: r.Name, Source: field.name}
			}
		}
	}
	if company := DeriveCompany(from); company != "" {
		return Match{Topic: company, Source: "sender"}
	}
	return Match{Topic: Uncategorized}
}

func (r Rule) apply(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	m := r.Pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	sel := r.Select
	if sel == nil {
		sel = LongestCapture
	}
	cand := sel(m[1:])
	return cand, strings.TrimSpace(cand) != ""
}

// Clean normalises an extracted topic: trims whitespace, strips one outer
// [..] or (..) pair and trims '#', '_', '-', ':' and whitespace from both
// ends. An empty result becomes Uncategorized.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if m := outerPair.FindStringSubmatch(s); m != nil {
		s = m[1] + m[2]
	}
	s = edgePunct.ReplaceAllString(s, "")
	if s == "" {
		return Uncategorized
	}
	return s
}
