package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/amishk599/jobsync/internal/model"
)

// SeedCategories upserts the taxonomy by id.
func (s *SQLStore) SeedCategories(ctx context.Context, categories []model.Category) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range categories {
			keywords, err := json.Marshal(c.Keywords)
			if err != nil {
				return err
			}
			_, err = s.exec(ctx, tx, `INSERT INTO categories (id, name, slug, keywords) VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, slug = excluded.slug, keywords = excluded.keywords`,
				c.ID, c.Name, c.Slug, string(keywords))
			if err != nil {
				return fmt.Errorf("category %d: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seeding categories: %w", err)
	}
	return nil
}

// ListCategories returns the taxonomy ordered by id.
func (s *SQLStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.query(ctx, s.db, "SELECT id, name, slug, keywords FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var (
			c        model.Category
			keywords string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &keywords); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords for category %d: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
