package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

const candidateColumns = `source, slug, name, status, suggested_category_id, remote_jobs, probed_at, created_at, updated_at`

// AddCandidate inserts c unless (source, slug) already exists.
func (s *SQLStore) AddCandidate(ctx context.Context, c model.CandidateCompany) (bool, error) {
	now := s.now().UTC()
	if c.Status == "" {
		c.Status = model.CompanyPending
	}
	res, err := s.exec(ctx, s.db, `INSERT INTO candidate_companies (`+candidateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, slug) DO NOTHING`,
		c.Source, c.Slug, c.Name, string(c.Status), c.SuggestedCategoryID, c.RemoteJobs,
		nullMillis(c.ProbedAt), toMillis(now), toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("adding candidate %s/%s: %w", c.Source, c.Slug, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListCandidates returns candidates matching q ordered by source and slug.
func (s *SQLStore) ListCandidates(ctx context.Context, q model.CandidateQuery) ([]model.CandidateCompany, error) {
	query := "SELECT " + candidateColumns + " FROM candidate_companies WHERE 1 = 1"
	var args []any
	if q.Source != "" {
		query += " AND source = ?"
		args = append(args, q.Source)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	query += " ORDER BY source, slug"

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateCompany
	for rows.Next() {
		var (
			c                model.CandidateCompany
			status           string
			probedAt         sql.NullInt64
			created, updated int64
		)
		if err := rows.Scan(&c.Source, &c.Slug, &c.Name, &status, &c.SuggestedCategoryID, &c.RemoteJobs,
			&probedAt, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		c.Status = model.CompanyStatus(status)
		c.ProbedAt = timeFromNull(probedAt)
		c.CreatedAt = fromMillis(created)
		c.UpdatedAt = fromMillis(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCandidate writes status and probe results for an existing candidate.
func (s *SQLStore) UpdateCandidate(ctx context.Context, c model.CandidateCompany) error {
	res, err := s.exec(ctx, s.db, `UPDATE candidate_companies
		SET name = ?, status = ?, suggested_category_id = ?, remote_jobs = ?, probed_at = ?, updated_at = ?
		WHERE source = ? AND slug = ?`,
		c.Name, string(c.Status), c.SuggestedCategoryID, c.RemoteJobs, nullMillis(c.ProbedAt),
		toMillis(s.now()), c.Source, c.Slug,
	)
	if err != nil {
		return fmt.Errorf("updating candidate %s/%s: %w", c.Source, c.Slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating candidate %s/%s: no such candidate", c.Source, c.Slug)
	}
	return nil
}

// KnownSlugs returns every slug recorded for source, whatever its status.
func (s *SQLStore) KnownSlugs(ctx context.Context, source string) (map[string]bool, error) {
	rows, err := s.query(ctx, s.db, "SELECT slug FROM candidate_companies WHERE source = ?", source)
	if err != nil {
		return nil, fmt.Errorf("listing known slugs for %s: %w", source, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out[slug] = true
	}
	return out, rows.Err()
}

// PruneCandidates deletes candidates in status last updated before cutoff.
func (s *SQLStore) PruneCandidates(ctx context.Context, status model.CompanyStatus, before time.Time) (int, error) {
	res, err := s.exec(ctx, s.db, "DELETE FROM candidate_companies WHERE status = ? AND updated_at < ?",
		string(status), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("pruning %s candidates: %w", status, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
