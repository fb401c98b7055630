package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/jobsync/internal/categorize"
	"github.com/amishk599/jobsync/internal/filter"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/ratelimit"
	"github.com/amishk599/jobsync/internal/retry"
)

// Outcome classifies a probe.
type Outcome string

const (
	// OutcomeSuccess: the board exists and has at least one remote posting.
	OutcomeSuccess Outcome = "success"
	// OutcomeNoRemote: the board exists but nothing on it qualifies.
	OutcomeNoRemote Outcome = "no_remote"
	// OutcomeNotFound: the provider confirmed there is no such board.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeTransient: the provider kept failing after every attempt.
	OutcomeTransient Outcome = "transient"
)

// suggestSample bounds how many remote postings feed the category vote.
const suggestSample = 25

// Result is what one probe learned about a slug.
type Result struct {
	Source              string
	Slug                string
	Outcome             Outcome
	Total               int
	RemoteJobs          int
	SuggestedCategoryID int64
	Err                 error // the last provider error for not_found and transient
}

// ProberConfig tunes a Prober. Zero values select defaults.
type ProberConfig struct {
	Delay    time.Duration // minimum gap between probes
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration // per attempt
}

// Prober checks candidate slugs against one provider's public board endpoint.
type Prober struct {
	fetcher     model.BoardFetcher
	classifier  *filter.RemoteClassifier
	categorizer *categorize.Categorizer
	limiter     *ratelimit.SourceLimiter
	policy      retry.Policy
	timeout     time.Duration
	logger      *slog.Logger
}

// NewProber builds a prober around fetcher.
func NewProber(fetcher model.BoardFetcher, classifier *filter.RemoteClassifier, categorizer *categorize.Categorizer, cfg ProberConfig, logger *slog.Logger) *Prober {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{
		fetcher:     fetcher,
		classifier:  classifier,
		categorizer: categorizer,
		limiter:     ratelimit.NewSourceLimiter(cfg.Delay, nil),
		policy: retry.Policy{
			MaxAttempts: cfg.Attempts,
			BaseDelay:   cfg.Backoff,
			Backoff:     retry.Exponential,
		},
		timeout: cfg.Timeout,
		logger:  logger.With("component", "prober", "source", fetcher.Name()),
	}
}

// Source is the provider this prober talks to.
func (p *Prober) Source() string { return p.fetcher.Name() }

// Probe issues one bounded request for slug, retrying transient failures.
// Provider failures are folded into the Result; the returned error is
// reserved for cancellation and payloads that cannot be normalized.
func (p *Prober) Probe(ctx context.Context, slug string) (Result, error) {
	res := Result{Source: p.Source(), Slug: slug}

	var listings []model.RawListing
	err := retry.Do(ctx, p.policy, p.logger.With("slug", slug), func(ctx context.Context, _ int) error {
		if err := p.limiter.Wait(ctx, p.Source()); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		var err error
		listings, err = p.fetcher.FetchBoard(attemptCtx, model.BoardRef{Slug: slug})
		return err
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.Is(err, model.ErrUnmappable):
		return res, fmt.Errorf("probing %s/%s: %w", p.Source(), slug, err)
	case model.IsNotFound(err):
		res.Outcome, res.Err = OutcomeNotFound, err
		return res, nil
	default:
		res.Outcome, res.Err = OutcomeTransient, err
		return res, nil
	}

	res.Total = len(listings)
	var sample []string
	for _, l := range listings {
		if !p.classifier.IsRemote(l) {
			continue
		}
		res.RemoteJobs++
		if len(sample) < 2*suggestSample {
			sample = append(sample, l.Title)
			if l.Department != "" {
				sample = append(sample, l.Department)
			}
		}
	}
	if res.RemoteJobs == 0 {
		res.Outcome = OutcomeNoRemote
		return res, nil
	}

	res.Outcome = OutcomeSuccess
	res.SuggestedCategoryID, _ = p.categorizer.Suggest(sample)
	return res, nil
}
