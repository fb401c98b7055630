package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

const listingColumns = `id, title, company, description_raw, description_summary, description_full,
	is_cleansed, pay_range, posted_at, source_url, source_name, board, category_id, remote_type,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(r rowScanner) (*model.Listing, error) {
	var (
		l                model.Listing
		postedAt         sql.NullInt64
		created, updated int64
		remoteType       string
	)
	err := r.Scan(&l.ID, &l.Title, &l.Company, &l.DescriptionRaw, &l.DescriptionSummary, &l.DescriptionFull,
		&l.IsCleansed, &l.PayRange, &postedAt, &l.SourceURL, &l.SourceName, &l.Board, &l.CategoryID, &remoteType,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	l.PostedAt = timeFromNull(postedAt)
	l.RemoteType = model.RemoteType(remoteType)
	l.CreatedAt = fromMillis(created)
	l.UpdatedAt = fromMillis(updated)
	return &l, nil
}

// FindListingBySourceURL returns the listing with the given identity, or
// nil when none exists.
func (s *SQLStore) FindListingBySourceURL(ctx context.Context, sourceURL string) (*model.Listing, error) {
	row := s.queryRow(ctx, s.db, "SELECT "+listingColumns+" FROM listings WHERE source_url = ?", sourceURL)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding listing %s: %w", sourceURL, err)
	}
	return l, nil
}

// InsertListing stores a new listing and sets its ID. CreatedAt and UpdatedAt
// default to now when zero. A source_url conflict returns
// model.ErrDuplicateListing.
func (s *SQLStore) InsertListing(ctx context.Context, l *model.Listing) error {
	now := s.now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}

	err := s.queryRow(ctx, s.db, `INSERT INTO listings (title, company, description_raw, description_summary,
		description_full, is_cleansed, pay_range, posted_at, source_url, source_name, board, category_id, remote_type,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		l.Title, l.Company, l.DescriptionRaw, l.DescriptionSummary, l.DescriptionFull, l.IsCleansed,
		l.PayRange, nullMillis(l.PostedAt), l.SourceURL, l.SourceName, l.Board, l.CategoryID, string(l.RemoteType),
		toMillis(l.CreatedAt), toMillis(l.UpdatedAt),
	).Scan(&l.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("inserting listing %s: %w", l.SourceURL, model.ErrDuplicateListing)
	}
	if err != nil {
		return fmt.Errorf("inserting listing %s: %w", l.SourceURL, err)
	}
	return nil
}

// UpdateListing overwrites the mutable fields of an existing listing.
func (s *SQLStore) UpdateListing(ctx context.Context, l *model.Listing) error {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = s.now().UTC()
	}
	res, err := s.exec(ctx, s.db, `UPDATE listings SET title = ?, company = ?, description_raw = ?,
		description_summary = ?, description_full = ?, is_cleansed = ?, pay_range = ?, posted_at = ?,
		source_name = ?, board = ?, category_id = ?, remote_type = ?, updated_at = ?
		WHERE id = ?`,
		l.Title, l.Company, l.DescriptionRaw, l.DescriptionSummary, l.DescriptionFull, l.IsCleansed,
		l.PayRange, nullMillis(l.PostedAt), l.SourceName, l.Board, l.CategoryID, string(l.RemoteType),
		toMillis(l.UpdatedAt), l.ID,
	)
	if err != nil {
		return fmt.Errorf("updating listing %d: %w", l.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating listing %d: no such listing", l.ID)
	}
	return nil
}

// ListListings returns listings matching q ordered by id.
func (s *SQLStore) ListListings(ctx context.Context, q model.ListingQuery) ([]model.Listing, error) {
	query := "SELECT " + listingColumns + " FROM listings WHERE 1 = 1"
	var args []any
	if q.Source != "" {
		query += " AND source_name = ?"
		args = append(args, q.Source)
	}
	if q.Company != "" {
		query += " AND company = ?"
		args = append(args, q.Company)
	}
	query += " ORDER BY id"

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing listings: %w", err)
	}
	defer rows.Close()

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// DeleteListings removes the given listings in one transaction: either all
// are removed or none are.
func (s *SQLStore) DeleteListings(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.deleteIDs(ctx, tx, ids)
		deleted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting %d listings: %w", len(ids), err)
	}
	return deleted, nil
}

func (s *SQLStore) deleteIDs(ctx context.Context, tx *sql.Tx, ids []int64) (int, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.exec(ctx, tx, "DELETE FROM listings WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteMissingListings removes the listings of one company board on one
// source whose source_url is not in keep.
func (s *SQLStore) DeleteMissingListings(ctx context.Context, source, board string, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, u := range keep {
		keepSet[u] = true
	}

	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.query(ctx, tx, "SELECT id, source_url FROM listings WHERE source_name = ? AND board = ?", source, board)
		if err != nil {
			return err
		}
		var stale []int64
		for rows.Next() {
			var (
				id  int64
				url string
			)
			if err := rows.Scan(&id, &url); err != nil {
				rows.Close()
				return err
			}
			if !keepSet[url] {
				stale = append(stale, id)
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		deleted, err = s.deleteIDs(ctx, tx, stale)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting stale %s listings for board %s: %w", source, board, err)
	}
	return deleted, nil
}

// DeleteListingsPostedBefore prunes listings whose posting date is older
// than cutoff. Listings without a posting date are kept.
func (s *SQLStore) DeleteListingsPostedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.exec(ctx, s.db, "DELETE FROM listings WHERE posted_at IS NOT NULL AND posted_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning listings posted before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
