package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
)

// configurable is implemented by sources that need credentials.
type configurable interface {
	Configured() bool
}

type sourcePlan struct {
	source model.SourceAdapter
	filter model.FetchFilter
}

// syncJobs fans out over the selected sources with bounded parallelism. The
// first unrecoverable error cancels the remaining sources and fails the run.
func (o *Orchestrator) syncJobs(ctx context.Context, st *runState) error {
	var sources []model.SourceAdapter
	if st.run.Source != "" {
		src, err := o.sources.Get(st.run.Source)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	} else {
		sources = o.sources.All()
	}

	var plans []sourcePlan
	total := 0
	for _, src := range sources {
		if c, ok := src.(configurable); ok && !c.Configured() {
			if err := st.logf(ctx, model.LogWarn, "%s skipped: credentials not configured", src.Name()); err != nil {
				return err
			}
			continue
		}
		f, err := o.fetchFilter(ctx, src)
		if err != nil {
			return err
		}
		if src.Kind() == model.SourceKindBoard && len(f.Boards) == 0 {
			if err := st.logf(ctx, model.LogInfo, "%s: no companies to sync", src.Name()); err != nil {
				return err
			}
			continue
		}
		plans = append(plans, sourcePlan{source: src, filter: f})
		total += src.EstimateUnits(f)
	}
	if err := st.addTotal(ctx, total); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, p := range plans {
		g.Go(func() error {
			return o.syncSource(gctx, st, p.source, p.filter)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if o.cfg.Retention > 0 && st.run.Source == "" {
		cutoff := o.now().Add(-o.cfg.Retention)
		n, err := o.store.DeleteListingsPostedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning expired listings: %w", err)
		}
		if n > 0 {
			if err := st.addStats(ctx, model.RunStats{JobsDeleted: n}); err != nil {
				return err
			}
			if err := st.logf(ctx, model.LogInfo, "pruned %d listings posted before %s", n, cutoff.UTC().Format("2006-01-02")); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchFilter lists the boards to read for a board source: the configured
// companies followed by every discovered company with status added.
func (o *Orchestrator) fetchFilter(ctx context.Context, src model.SourceAdapter) (model.FetchFilter, error) {
	if src.Kind() != model.SourceKindBoard {
		return model.FetchFilter{MaxPages: o.cfg.PageCap}, nil
	}

	seen := make(map[string]bool)
	var boards []model.BoardRef
	for _, ref := range o.cfg.Companies[src.Name()] {
		if !seen[ref.Slug] {
			seen[ref.Slug] = true
			boards = append(boards, ref)
		}
	}

	found, err := o.store.ListCandidates(ctx, model.CandidateQuery{Source: src.Name(), Status: model.CompanyAdded})
	if err != nil {
		return model.FetchFilter{}, fmt.Errorf("listing discovered %s companies: %w", src.Name(), err)
	}
	for _, c := range found {
		if !seen[c.Slug] {
			seen[c.Slug] = true
			boards = append(boards, model.BoardRef{Slug: c.Slug, Name: c.Name})
		}
	}
	return model.FetchFilter{Boards: boards}, nil
}

// syncSource consumes one source's batches. A *model.FetchError skips its
// unit; any other error ends the source and fails the run.
func (o *Orchestrator) syncSource(ctx context.Context, st *runState, src model.SourceAdapter, f model.FetchFilter) error {
	for batch, err := range src.Fetch(ctx, f) {
		if err != nil {
			var fetchErr *model.FetchError
			if errors.As(err, &fetchErr) {
				if err := st.unitDone(ctx, model.RunStats{}, model.LogWarn,
					fmt.Sprintf("%s/%s skipped: %v", src.Name(), batch.Unit, fetchErr.Err)); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("fetching %s: %w", src.Name(), err)
		}

		delta, err := o.ingest(ctx, batch.Listings)
		if err != nil {
			return fmt.Errorf("storing %s/%s: %w", src.Name(), batch.Unit, err)
		}

		if batch.Board != nil {
			keep := make([]string, 0, len(batch.Listings))
			for _, l := range batch.Listings {
				keep = append(keep, l.SourceURL)
			}
			n, err := o.store.DeleteMissingListings(ctx, src.Name(), batch.Board.Slug, keep)
			if err != nil {
				return fmt.Errorf("removing closed %s/%s listings: %w", src.Name(), batch.Unit, err)
			}
			delta.JobsDeleted += n
		}

		msg := fmt.Sprintf("%s/%s: %d fetched, %d added, %d updated, %d deleted",
			src.Name(), batch.Unit, len(batch.Listings), delta.JobsAdded, delta.JobsUpdated, delta.JobsDeleted)
		if delta.JobsSkipped > 0 {
			msg += fmt.Sprintf(", %d skipped", delta.JobsSkipped)
		}
		if err := st.unitDone(ctx, delta, model.LogInfo, msg); err != nil {
			return err
		}
	}
	return nil
}

// ingest upserts a batch keyed by source URL and returns the counters it
// produced. Losing an insert race to a concurrent writer counts as a skip.
func (o *Orchestrator) ingest(ctx context.Context, raws []model.RawListing) (model.RunStats, error) {
	var delta model.RunStats
	for _, raw := range raws {
		if raw.SourceURL == "" {
			delta.JobsSkipped++
			continue
		}
		l := o.toListing(raw)

		existing, err := o.store.FindListingBySourceURL(ctx, l.SourceURL)
		if err != nil {
			return delta, err
		}
		if existing != nil {
			l.ID = existing.ID
			l.CreatedAt = existing.CreatedAt
			if existing.DescriptionRaw == l.DescriptionRaw {
				l.DescriptionSummary = existing.DescriptionSummary
				l.DescriptionFull = existing.DescriptionFull
				l.IsCleansed = existing.IsCleansed
			}
			l.UpdatedAt = o.now().UTC()
			if err := o.store.UpdateListing(ctx, &l); err != nil {
				return delta, err
			}
			delta.JobsUpdated++
			continue
		}

		err = o.store.InsertListing(ctx, &l)
		switch {
		case errors.Is(err, model.ErrDuplicateListing):
			delta.JobsSkipped++
		case err != nil:
			return delta, err
		default:
			delta.JobsAdded++
		}
	}
	return delta, nil
}

func (o *Orchestrator) toListing(raw model.RawListing) model.Listing {
	text := normalize.PlainText(raw.DescriptionHTML)
	return model.Listing{
		Title:              raw.Title,
		Company:            raw.Company,
		DescriptionRaw:     raw.DescriptionHTML,
		DescriptionSummary: normalize.Summary(text, normalize.SummaryLength),
		DescriptionFull:    text,
		PayRange:           raw.SalaryText,
		PostedAt:           raw.PostedAt,
		SourceURL:          raw.SourceURL,
		SourceName:         raw.SourceName,
		Board:              raw.Board,
		CategoryID:         o.categorizer.DetermineCategory(raw.Title, text, raw.Tags),
		RemoteType:         o.classifier.Classify(raw),
	}
}
