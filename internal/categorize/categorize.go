// Package categorize assigns listings to taxonomy categories with a
// three-tier keyword match: title, then tags, then a scored description scan.
package categorize

import (
	"strings"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
)

// DescriptionPrefixBytes caps how much of a description is scanned.
const DescriptionPrefixBytes = 5000

type compiled struct {
	id    int64
	title []string // lowercased title-tier terms
	all   []string // lowercased terms of every tier
}

// Categorizer is immutable after construction and safe for concurrent use.
type Categorizer struct {
	categories []compiled
	defaultID  int64
}

// New compiles a taxonomy for matching.
func New(t *Taxonomy) *Categorizer {
	c := &Categorizer{defaultID: t.DefaultID}
	for _, cat := range t.Categories {
		cc := compiled{id: cat.ID}
		for _, k := range cat.Keywords {
			term := strings.ToLower(strings.TrimSpace(k.Term))
			if term == "" {
				continue
			}
			if k.Tier == model.KeywordTitle {
				cc.title = append(cc.title, term)
			}
			cc.all = append(cc.all, term)
		}
		c.categories = append(c.categories, cc)
	}
	return c
}

// DefaultID is the fallback category.
func (c *Categorizer) DefaultID() int64 { return c.defaultID }

// DetermineCategory returns the category id for a listing. Each tier runs
// only when every earlier tier found nothing.
func (c *Categorizer) DetermineCategory(title, description string, tags []string) int64 {
	if id, ok := c.matchTitle(title); ok {
		return id
	}
	if id, ok := c.matchTags(tags); ok {
		return id
	}
	return c.scoreDescription(description)
}

func (c *Categorizer) matchTitle(title string) (int64, bool) {
	lower := strings.ToLower(title)
	if strings.TrimSpace(lower) == "" {
		return 0, false
	}
	for _, cat := range c.categories {
		if containsAny(lower, cat.title) {
			return cat.id, true
		}
	}
	return 0, false
}

func (c *Categorizer) matchTags(tags []string) (int64, bool) {
	if len(tags) == 0 {
		return 0, false
	}
	lower := make([]string, len(tags))
	for i, t := range tags {
		lower[i] = strings.ToLower(t)
	}
	for _, cat := range c.categories {
		for _, tag := range lower {
			if containsAny(tag, cat.title) {
				return cat.id, true
			}
		}
	}
	return 0, false
}

func (c *Categorizer) scoreDescription(description string) int64 {
	text := strings.ToLower(normalize.Truncate(description, DescriptionPrefixBytes))
	if strings.TrimSpace(text) == "" {
		return c.defaultID
	}

	bestID, bestScore := c.defaultID, 0
	for _, cat := range c.categories {
		score := 0
		for _, term := range cat.all {
			score += strings.Count(text, term)
		}
		if score > bestScore || (score == bestScore && score > 0 && cat.id < bestID) {
			bestID, bestScore = cat.id, score
		}
	}
	return bestID
}

// Suggest picks a bucket for a company from a sample of its job titles and
// departments: each text votes for every category whose title-tier keyword
// it contains. The category with most votes wins, ties to the lowest id.
// ok is false when no text matched anything.
func (c *Categorizer) Suggest(texts []string) (id int64, ok bool) {
	votes := make(map[int64]int)
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, cat := range c.categories {
			if containsAny(lower, cat.title) {
				votes[cat.id]++
			}
		}
	}

	best := 0
	for _, cat := range c.categories {
		v := votes[cat.id]
		if v > best || (v == best && v > 0 && cat.id < id) {
			id, best = cat.id, v
		}
	}
	if best == 0 {
		return c.defaultID, false
	}
	return id, true
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
