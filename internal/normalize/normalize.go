// Package normalize converts provider-specific encodings into the common
// listing shape: canonical UTC timestamps, plain text and pay ranges.
package normalize

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// SummaryLength is the rune cap for Listing.DescriptionSummary.
const SummaryLength = 300

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// Seconds will not reach 1e12 until the year 33658.
const epochMillisThreshold = 1_000_000_000_000

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseISO parses an ISO-8601 timestamp in any of the layouts providers are
// known to emit. The result is UTC. Values without a zone are read as UTC.
func ParseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FromEpochSeconds converts a unix timestamp in seconds to UTC.
func FromEpochSeconds(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// FromEpochMillis converts a unix timestamp in milliseconds to UTC.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FromEpoch picks seconds or milliseconds by magnitude.
func FromEpoch(v int64) time.Time {
	if v >= epochMillisThreshold || v <= -epochMillisThreshold {
		return FromEpochMillis(v)
	}
	return FromEpochSeconds(v)
}

// ParseTimestamp accepts an ISO-8601 string or a numeric epoch string.
// It returns nil for an empty input and an error for anything unparseable.
func ParseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := FromEpoch(n)
		return &t, nil
	}
	t, err := ParseISO(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TimePtr returns a pointer to a UTC copy of t, or nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

const blockSelectors = "p, br, li, div, tr, h1, h2, h3, h4, h5, h6, ul, ol, section, blockquote"

// PlainText converts an HTML or HTML-encoded fragment to a single line of
// text. Entities are unescaped first because some providers double-encode
// their markup. Block elements are separated by a space.
func PlainText(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	unescaped := html.UnescapeString(content)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unescaped))
	if err != nil {
		return collapse(unescaped)
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find(blockSelectors).AfterHtml(" ")

	return collapse(doc.Text())
}

// Summary truncates text to at most limit runes, backing off to the last
// word boundary and appending an ellipsis when anything was cut.
func Summary(text string, limit int) string {
	text = collapse(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:-") + "…"
}

// Truncate returns the longest prefix of s that is at most n bytes and
// does not split a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// FormatPayRange renders a salary range such as "USD 120000-150000 per year".
// Zero bounds are treated as absent; both absent yields "".
func FormatPayRange(min, max float64, currency, interval string) string {
	if min <= 0 && max <= 0 {
		return ""
	}
	var amount string
	switch {
	case min > 0 && max > 0 && min != max:
		amount = formatAmount(min) + "-" + formatAmount(max)
	case min > 0:
		amount = formatAmount(min)
	default:
		amount = formatAmount(max)
	}

	var b strings.Builder
	if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
		b.WriteString(c)
		b.WriteByte(' ')
	}
	b.WriteString(amount)
	if iv := normalizeInterval(interval); iv != "" {
		b.WriteString(" per ")
		b.WriteString(iv)
	}
	return b.String()
}

func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func normalizeInterval(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "per-")
	s = strings.TrimPrefix(s, "per ")
	s = strings.TrimPrefix(s, "1 ")
	switch s {
	case "", "none":
		return ""
	case "yearly", "annual", "annually", "year-salary", "year":
		return "year"
	case "monthly", "month":
		return "month"
	case "hourly", "hour", "hour-wage":
		return "hour"
	case "weekly", "week":
		return "week"
	case "daily", "day":
		return "day"
	}
	return s
}

// Key lowercases s and collapses runs of whitespace to single spaces. It is
// the equality key used by dedup and slug matching.
func Key(s string) string {
	return strings.ToLower(collapse(s))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
