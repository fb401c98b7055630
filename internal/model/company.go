package model

import (
	"context"
	"time"
)

// CompanyStatus is the discovery lifecycle of a candidate company.
type CompanyStatus string

const (
	CompanyPending  CompanyStatus = "pending"
	CompanyAdded    CompanyStatus = "added"
	CompanyNotFound CompanyStatus = "not_found"
)

// ParseCompanyStatus converts a raw string, rejecting unknown values.
func ParseCompanyStatus(s string) (CompanyStatus, error) {
	st := CompanyStatus(s)
	switch st {
	case CompanyPending, CompanyAdded, CompanyNotFound:
		return st, nil
	}
	return "", &unknownValueError{kind: "company status", value: s}
}

// CandidateCompany is keyed by (Source, Slug).
type CandidateCompany struct {
	Source              string        `json:"source"`
	Slug                string        `json:"slug"`
	Name                string        `json:"name"`
	Status              CompanyStatus `json:"status"`
	SuggestedCategoryID int64         `json:"suggested_category_id,omitempty"`
	RemoteJobs          int           `json:"remote_jobs"`
	ProbedAt            *time.Time    `json:"probed_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// CandidateQuery filters ListCandidates. Empty fields match everything.
type CandidateQuery struct {
	Source string
	Status CompanyStatus
}

// CompanyStore persists discovery candidates.
type CompanyStore interface {
	// AddCandidate inserts a pending candidate; it reports false when the
	// (source, slug) pair already exists.
	AddCandidate(ctx context.Context, c CandidateCompany) (bool, error)
	ListCandidates(ctx context.Context, q CandidateQuery) ([]CandidateCompany, error)
	UpdateCandidate(ctx context.Context, c CandidateCompany) error
	KnownSlugs(ctx context.Context, source string) (map[string]bool, error)
	PruneCandidates(ctx context.Context, status CompanyStatus, before time.Time) (int, error)
}
