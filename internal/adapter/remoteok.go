package adapter

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"time"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
)

const remoteOKBaseURL = "https://remoteok.com/api"

// remoteOKJob is one element of the RemoteOK feed. The first element of the
// array is a legal notice carrying only "legal" and "last_updated".
type remoteOKJob struct {
	Legal       string      `json:"legal"`
	Epoch       json.Number `json:"epoch"` // unix seconds
	Date        string      `json:"date"`
	Company     string      `json:"company"`
	Position    string      `json:"position"`
	Tags        []string    `json:"tags"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	SalaryMin   float64     `json:"salary_min"`
	SalaryMax   float64     `json:"salary_max"`
	URL         string      `json:"url"`
}

// RemoteOK is an aggregator feed of remote-only postings. The public API
// serves the whole feed as a single page.
type RemoteOK struct {
	baseURL string
	opts    Options
}

// NewRemoteOK creates the RemoteOK feed adapter. An empty baseURL uses the
// public API.
func NewRemoteOK(baseURL string, opts Options) *RemoteOK {
	if baseURL == "" {
		baseURL = remoteOKBaseURL
	}
	return &RemoteOK{baseURL: baseURL, opts: opts.withDefaults()}
}

func (a *RemoteOK) Name() string { return "remoteok" }

func (a *RemoteOK) Kind() model.SourceKind { return model.SourceKindAggregator }

func (a *RemoteOK) EstimateUnits(model.FetchFilter) int { return 1 }

// Fetch yields the feed as one batch.
func (a *RemoteOK) Fetch(ctx context.Context, _ model.FetchFilter) iter.Seq2[model.Batch, error] {
	return func(yield func(model.Batch, error) bool) {
		batch := model.Batch{Unit: "page 1"}

		var jobs []remoteOKJob
		err := a.opts.call(ctx, a.Name(), func(ctx context.Context) error {
			return getJSON(ctx, a.opts.Client, a.baseURL, &jobs)
		})
		if err == nil {
			batch.Listings, err = a.normalize(jobs)
		}
		if err != nil {
			if isUnitFailure(ctx, err) {
				err = &model.FetchError{Source: a.Name(), Unit: batch.Unit, Err: err}
			}
			yield(batch, err)
			return
		}
		yield(batch, nil)
	}
}

func (a *RemoteOK) normalize(jobs []remoteOKJob) ([]model.RawListing, error) {
	listings := make([]model.RawListing, 0, len(jobs))
	for _, j := range jobs {
		if j.Legal != "" || j.URL == "" {
			continue
		}

		l := model.RawListing{
			Title:           strings.TrimSpace(j.Position),
			Company:         strings.TrimSpace(j.Company),
			DescriptionHTML: j.Description,
			SalaryText:      normalize.FormatPayRange(j.SalaryMin, j.SalaryMax, "USD", "year"),
			SourceURL:       j.URL,
			SourceName:      a.Name(),
			Tags:            j.Tags,
			Location:        j.Location,
			RemoteHint:      true,
		}

		var postedAt time.Time
		if sec, err := j.Epoch.Int64(); err == nil && sec > 0 {
			postedAt = normalize.FromEpochSeconds(sec)
		} else if j.Date != "" {
			t, err := parseProviderTime(j.Date)
			if err != nil {
				return nil, err
			}
			postedAt = t
		}
		l.PostedAt = normalize.TimePtr(postedAt)

		listings = append(listings, l)
	}
	return listings, nil
}
