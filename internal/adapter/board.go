package adapter

import (
	"context"
	"errors"
	"iter"

	"github.com/amishk599/jobsync/internal/model"
)

// BoardSource turns a per-company BoardFetcher into a SourceAdapter that
// yields one batch per board. Provider failures for one board are yielded as
// *model.FetchError so the caller can skip that company and continue.
type BoardSource struct {
	fetcher model.BoardFetcher
	opts    Options
}

// NewBoardSource wraps fetcher with the shared throttle and retry policy.
func NewBoardSource(fetcher model.BoardFetcher, opts Options) *BoardSource {
	return &BoardSource{fetcher: fetcher, opts: opts.withDefaults()}
}

func (s *BoardSource) Name() string { return s.fetcher.Name() }

func (s *BoardSource) Kind() model.SourceKind { return model.SourceKindBoard }

// Fetcher exposes the underlying single-request fetcher for probing.
func (s *BoardSource) Fetcher() model.BoardFetcher { return s.fetcher }

func (s *BoardSource) EstimateUnits(filter model.FetchFilter) int {
	return len(filter.Boards)
}

// Fetch reads each board in filter.Boards in order.
func (s *BoardSource) Fetch(ctx context.Context, filter model.FetchFilter) iter.Seq2[model.Batch, error] {
	return func(yield func(model.Batch, error) bool) {
		for _, ref := range filter.Boards {
			if err := ctx.Err(); err != nil {
				yield(model.Batch{}, err)
				return
			}

			batch := model.Batch{Unit: ref.Slug, Board: &ref}

			var listings []model.RawListing
			err := s.opts.call(ctx, s.Name(), func(ctx context.Context) error {
				var err error
				listings, err = s.fetcher.FetchBoard(ctx, ref)
				return err
			})
			if err != nil {
				if !isUnitFailure(ctx, err) {
					yield(batch, err)
					return
				}
				if !yield(batch, &model.FetchError{Source: s.Name(), Unit: ref.Slug, Err: err}) {
					return
				}
				continue
			}

			for i := range listings {
				listings[i].Board = ref.Slug
			}
			batch.Listings = listings
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// isUnitFailure reports whether err is scoped to one unit of work. Parent
// cancellation and unmappable payloads are not: they end the pass.
func isUnitFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, model.ErrUnmappable)
}
