package model

import (
	"context"
	"iter"
	"time"
)

// RawListing is the normalized shape every source adapter produces. It is
// rebuilt on every fetch and never persisted directly.
type RawListing struct {
	Title           string
	Company         string
	DescriptionHTML string
	SalaryText      string     // empty when the provider publishes no pay info
	PostedAt        *time.Time // always UTC, nil when the provider omits it
	SourceURL       string     // provider-unique
	SourceName      string
	Board           string // company board slug, empty for aggregator listings
	Tags            []string
	Location        string
	Department      string
	RemoteHint      bool // provider explicitly flagged the posting as remote
}

// RemoteType describes the work arrangement of a listing.
type RemoteType string

const (
	RemoteTypeRemote  RemoteType = "remote"
	RemoteTypeHybrid  RemoteType = "hybrid"
	RemoteTypeOnsite  RemoteType = "onsite"
	RemoteTypeUnknown RemoteType = "unknown"
)

// Listing is a persisted job posting. SourceURL is its identity across runs.
type Listing struct {
	ID                 int64      `json:"id"`
	Title              string     `json:"title"`
	Company            string     `json:"company"`
	DescriptionRaw     string     `json:"description_raw"`
	DescriptionSummary string     `json:"description_summary"`
	DescriptionFull    string     `json:"description_full"`
	IsCleansed         bool       `json:"is_cleansed"`
	PayRange           string     `json:"pay_range,omitempty"`
	PostedAt           *time.Time `json:"posted_at,omitempty"`
	SourceURL          string     `json:"source_url"`
	SourceName         string     `json:"source_name"`
	Board              string     `json:"board,omitempty"`
	CategoryID         int64      `json:"category_id"`
	RemoteType         RemoteType `json:"remote_type"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// KeywordTier says in which categorization tiers a keyword participates.
// Title keywords are matched against titles and tags and also score
// descriptions; description keywords only score descriptions.
type KeywordTier int

const (
	KeywordTitle KeywordTier = iota + 1
	KeywordDescription
)

// Keyword is a single taxonomy term.
type Keyword struct {
	Term string      `json:"term" yaml:"term"`
	Tier KeywordTier `json:"tier" yaml:"tier"`
}

// Category is static taxonomy reference data.
type Category struct {
	ID       int64     `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Slug     string    `json:"slug" yaml:"slug"`
	Keywords []Keyword `json:"keywords" yaml:"keywords"`
}

// SourceKind distinguishes per-company board APIs from aggregator feeds.
type SourceKind string

const (
	SourceKindBoard      SourceKind = "board"
	SourceKindAggregator SourceKind = "aggregator"
)

// BoardRef identifies one company board on a board-API provider.
type BoardRef struct {
	Slug string
	Name string
}

// FetchFilter narrows one fetch. Board adapters read Boards; aggregators
// ignore it and honour MaxPages instead.
type FetchFilter struct {
	Boards   []BoardRef
	MaxPages int // zero means the adapter default
}

// Batch is one unit of fetched work: a company board or a feed page.
type Batch struct {
	Unit     string
	Board    *BoardRef // set for board batches
	Listings []RawListing
}

// SourceAdapter fetches postings from one provider. Each Fetch call is a
// fresh, finite pass over the provider; no cursor survives between calls.
// Per-unit provider failures are yielded as *FetchError and iteration may
// continue; any other error is fatal for the pass.
type SourceAdapter interface {
	Name() string
	Kind() SourceKind
	EstimateUnits(filter FetchFilter) int
	Fetch(ctx context.Context, filter FetchFilter) iter.Seq2[Batch, error]
}

// BoardFetcher reads a single company board in one request. The company
// prober uses it directly.
type BoardFetcher interface {
	Name() string
	FetchBoard(ctx context.Context, ref BoardRef) ([]RawListing, error)
}

// ListingQuery filters ListListings. Empty fields match everything.
type ListingQuery struct {
	Source  string
	Company string
}

// ListingStore persists listings keyed by SourceURL.
type ListingStore interface {
	FindListingBySourceURL(ctx context.Context, sourceURL string) (*Listing, error)
	InsertListing(ctx context.Context, l *Listing) error
	UpdateListing(ctx context.Context, l *Listing) error
	ListListings(ctx context.Context, q ListingQuery) ([]Listing, error)
	DeleteListings(ctx context.Context, ids []int64) (int, error)
	DeleteMissingListings(ctx context.Context, source, board string, keep []string) (int, error)
	DeleteListingsPostedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CategoryStore holds the taxonomy reference table.
type CategoryStore interface {
	SeedCategories(ctx context.Context, categories []Category) error
	ListCategories(ctx context.Context) ([]Category, error)
}
