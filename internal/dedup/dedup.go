// Package dedup removes stored listings that are exact duplicates under a
// chosen set of fields.
package dedup

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
)

// Criterion names a listing field compared for equality.
type Criterion string

const (
	ByTitle       Criterion = "title"
	ByCompany     Criterion = "company"
	BySalary      Criterion = "salary"
	ByDescription Criterion = "description"
)

// ParseCriteria validates raw criterion names. Order and repeats do not
// matter; the result is sorted and unique.
func ParseCriteria(raw []string) ([]Criterion, error) {
	var out []Criterion
	for _, r := range raw {
		c := Criterion(strings.ToLower(strings.TrimSpace(r)))
		switch c {
		case ByTitle, ByCompany, BySalary, ByDescription:
		default:
			return nil, fmt.Errorf("unknown dedup criterion %q", r)
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one dedup criterion is required")
	}
	slices.Sort(out)
	return out, nil
}

// Options selects what to compare and whether to mutate.
type Options struct {
	Criteria []Criterion
	DryRun   bool
	Source   string // empty scans every source
}

// Group is one equivalence class with more than one member.
type Group struct {
	Keep   model.Listing   `json:"keep"`
	Remove []model.Listing `json:"remove"`
}

// Report summarises a run. In dry-run mode Removed counts what would go.
type Report struct {
	DryRun  bool    `json:"dry_run"`
	Scanned int     `json:"scanned"`
	Groups  []Group `json:"groups"`
	Removed int     `json:"removed"`
}

// Store is the slice of the listing store dedup needs.
type Store interface {
	ListListings(ctx context.Context, q model.ListingQuery) ([]model.Listing, error)
	DeleteListings(ctx context.Context, ids []int64) (int, error)
}

// Deduplicator prunes duplicate listings.
type Deduplicator struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Deduplicator{store: store, logger: logger.With("component", "dedup")}
}

// Run groups the stored listings and, unless DryRun is set, deletes every
// non-kept member. Each group is deleted in its own transaction, so a
// failure leaves earlier groups pruned and the failing group intact.
func (d *Deduplicator) Run(ctx context.Context, opts Options) (*Report, error) {
	criteria, err := ParseCriteria(criteriaStrings(opts.Criteria))
	if err != nil {
		return nil, err
	}

	listings, err := d.store.ListListings(ctx, model.ListingQuery{Source: opts.Source})
	if err != nil {
		return nil, fmt.Errorf("loading listings for dedup: %w", err)
	}

	report := &Report{
		DryRun:  opts.DryRun,
		Scanned: len(listings),
		Groups:  FindGroups(listings, criteria),
	}

	for _, g := range report.Groups {
		if opts.DryRun {
			report.Removed += len(g.Remove)
			continue
		}
		ids := make([]int64, len(g.Remove))
		for i, l := range g.Remove {
			ids[i] = l.ID
		}
		n, err := d.store.DeleteListings(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("removing duplicates of listing %d: %w", g.Keep.ID, err)
		}
		report.Removed += n
	}

	d.logger.Info("dedup finished",
		"criteria", criteria,
		"dry_run", opts.DryRun,
		"scanned", report.Scanned,
		"groups", len(report.Groups),
		"removed", report.Removed,
	)
	return report, nil
}

// FindGroups partitions listings by the normalized values of criteria and
// returns every class with more than one member. The earliest created
// listing is kept, ties going to the lowest id. Listings missing any
// compared field never match. Groups are ordered by the kept id.
func FindGroups(listings []model.Listing, criteria []Criterion) []Group {
	classes := make(map[string][]model.Listing)
	var order []string
	for _, l := range listings {
		k, ok := key(l, criteria)
		if !ok {
			continue
		}
		if _, seen := classes[k]; !seen {
			order = append(order, k)
		}
		classes[k] = append(classes[k], l)
	}

	var groups []Group
	for _, k := range order {
		members := classes[k]
		if len(members) < 2 {
			continue
		}
		slices.SortFunc(members, func(a, b model.Listing) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		groups = append(groups, Group{Keep: members[0], Remove: members[1:]})
	}
	slices.SortFunc(groups, func(a, b Group) int { return cmp.Compare(a.Keep.ID, b.Keep.ID) })
	return groups
}

func key(l model.Listing, criteria []Criterion) (string, bool) {
	parts := make([]string, len(criteria))
	for i, c := range criteria {
		v := normalize.Key(field(l, c))
		if v == "" {
			return "", false
		}
		parts[i] = v
	}
	return strings.Join(parts, "\x1f"), true
}

func field(l model.Listing, c Criterion) string {
	switch c {
	case ByTitle:
		return l.Title
	case ByCompany:
		return l.Company
	case BySalary:
		return l.PayRange
	case ByDescription:
		if l.DescriptionFull != "" {
			return l.DescriptionFull
		}
		return l.DescriptionRaw
	}
	return ""
}

func criteriaStrings(cs []Criterion) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
