package filter

import (
	"strings"

	"github.com/amishk599/jobsync/internal/model"
)

// DefaultRemoteKeywords are the location/tag terms that signal remote work.
var DefaultRemoteKeywords = []string{"remote", "anywhere", "work from home", "wfh", "distributed"}

// RemoteClassifier derives a listing's work arrangement from its location,
// tags, department and description. Matching is case-insensitive substring.
type RemoteClassifier struct {
	keywords []string
}

// NewRemoteClassifier returns a classifier using keywords as the remote
// signal. An empty list falls back to DefaultRemoteKeywords.
func NewRemoteClassifier(keywords []string) *RemoteClassifier {
	if len(keywords) == 0 {
		keywords = DefaultRemoteKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lower = append(lower, kw)
		}
	}
	return &RemoteClassifier{keywords: lower}
}

// Classify returns the listing's remote type. An explicit provider flag wins,
// then "hybrid" in the location, then a remote keyword in location or tags.
// A concrete location with no remote signal is onsite; no location at all
// falls back to the description and otherwise stays unknown.
func (c *RemoteClassifier) Classify(l model.RawListing) model.RemoteType {
	if l.RemoteHint {
		return model.RemoteTypeRemote
	}

	location := strings.ToLower(l.Location)
	if strings.Contains(location, "hybrid") {
		return model.RemoteTypeHybrid
	}
	if c.matches(location) {
		return model.RemoteTypeRemote
	}
	for _, tag := range l.Tags {
		if c.matches(strings.ToLower(tag)) {
			return model.RemoteTypeRemote
		}
	}

	if strings.TrimSpace(location) != "" {
		return model.RemoteTypeOnsite
	}
	if c.matches(strings.ToLower(l.DescriptionHTML)) {
		return model.RemoteTypeRemote
	}
	return model.RemoteTypeUnknown
}

// IsRemote reports whether the listing carries any remote-work signal,
// including one buried in the description of an otherwise located posting.
func (c *RemoteClassifier) IsRemote(l model.RawListing) bool {
	switch c.Classify(l) {
	case model.RemoteTypeRemote:
		return true
	case model.RemoteTypeOnsite:
		return c.matches(strings.ToLower(l.Department)) || c.matches(strings.ToLower(l.DescriptionHTML))
	}
	return false
}

func (c *RemoteClassifier) matches(lower string) bool {
	if lower == "" {
		return false
	}
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
