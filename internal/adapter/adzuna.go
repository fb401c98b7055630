package adapter

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
)

const (
	adzunaBaseURL        = "https://api.adzuna.com/v1/api/jobs"
	adzunaResultsPerPage = 50
	adzunaDefaultPages   = 5
)

// AdzunaConfig holds the credentials and query for the Adzuna search API.
type AdzunaConfig struct {
	BaseURL        string
	AppID          string
	AppKey         string
	Country        string // two-letter market, e.g. "us"
	What           string // free-text query
	ResultsPerPage int
	MaxPages       int
}

type adzunaJob struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	RedirectURL  string  `json:"redirect_url"`
	Created      string  `json:"created"`
	SalaryMin    float64 `json:"salary_min"`
	SalaryMax    float64 `json:"salary_max"`
	ContractTime string  `json:"contract_time"`
	Company      struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
	Category struct {
		Label string `json:"label"`
	} `json:"category"`
}

type adzunaResponse struct {
	Count   int         `json:"count"`
	Results []adzunaJob `json:"results"`
}

// Adzuna is a paged aggregator feed. Pagination stops at the first short
// page or at the page cap, whichever comes first.
type Adzuna struct {
	cfg  AdzunaConfig
	opts Options
}

// NewAdzuna creates the Adzuna feed adapter.
func NewAdzuna(cfg AdzunaConfig, opts Options) *Adzuna {
	if cfg.BaseURL == "" {
		cfg.BaseURL = adzunaBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Country == "" {
		cfg.Country = "us"
	}
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = adzunaResultsPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = adzunaDefaultPages
	}
	return &Adzuna{cfg: cfg, opts: opts.withDefaults()}
}

func (a *Adzuna) Name() string { return "adzuna" }

func (a *Adzuna) Kind() model.SourceKind { return model.SourceKindAggregator }

// Configured reports whether API credentials are present.
func (a *Adzuna) Configured() bool {
	return a.cfg.AppID != "" && a.cfg.AppKey != ""
}

func (a *Adzuna) EstimateUnits(filter model.FetchFilter) int {
	return a.pageCap(filter)
}

func (a *Adzuna) pageCap(filter model.FetchFilter) int {
	if filter.MaxPages > 0 {
		return filter.MaxPages
	}
	return a.cfg.MaxPages
}

// Fetch yields one batch per result page.
func (a *Adzuna) Fetch(ctx context.Context, filter model.FetchFilter) iter.Seq2[model.Batch, error] {
	return func(yield func(model.Batch, error) bool) {
		pages := a.pageCap(filter)
		for page := 1; page <= pages; page++ {
			batch := model.Batch{Unit: fmt.Sprintf("page %d", page)}

			var resp adzunaResponse
			err := a.opts.call(ctx, a.Name(), func(ctx context.Context) error {
				return getJSON(ctx, a.opts.Client, a.pageURL(page), &resp)
			})
			if err == nil {
				batch.Listings, err = a.normalize(resp.Results)
			}
			if err != nil {
				if isUnitFailure(ctx, err) {
					// Later pages cannot be located without this one.
					yield(batch, &model.FetchError{Source: a.Name(), Unit: batch.Unit, Err: err})
					return
				}
				yield(batch, err)
				return
			}

			if !yield(batch, nil) {
				return
			}
			if len(resp.Results) < a.cfg.ResultsPerPage {
				return
			}
		}
	}
}

func (a *Adzuna) pageURL(page int) string {
	q := url.Values{}
	q.Set("app_id", a.cfg.AppID)
	q.Set("app_key", a.cfg.AppKey)
	q.Set("results_per_page", fmt.Sprint(a.cfg.ResultsPerPage))
	q.Set("content-type", "application/json")
	if a.cfg.What != "" {
		q.Set("what", a.cfg.What)
	}
	return fmt.Sprintf("%s/%s/search/%d?%s", a.cfg.BaseURL, a.cfg.Country, page, q.Encode())
}

func (a *Adzuna) normalize(jobs []adzunaJob) ([]model.RawListing, error) {
	listings := make([]model.RawListing, 0, len(jobs))
	for _, j := range jobs {
		if j.RedirectURL == "" {
			continue
		}
		l := model.RawListing{
			Title:           strings.TrimSpace(j.Title),
			Company:         strings.TrimSpace(j.Company.DisplayName),
			DescriptionHTML: j.Description,
			SalaryText:      formatAdzunaSalary(j, a.cfg.Country),
			SourceURL:       j.RedirectURL,
			SourceName:      a.Name(),
			Location:        j.Location.DisplayName,
		}
		for _, tag := range []string{j.Category.Label, j.ContractTime} {
			if tag != "" {
				l.Tags = append(l.Tags, tag)
			}
		}
		if j.Created != "" {
			t, err := parseProviderTime(j.Created)
			if err != nil {
				return nil, fmt.Errorf("adzuna job %s: %w", j.ID, err)
			}
			l.PostedAt = &t
		}
		listings = append(listings, l)
	}
	return listings, nil
}

var adzunaCurrencies = map[string]string{
	"us": "USD", "gb": "GBP", "ca": "CAD", "au": "AUD", "de": "EUR",
	"fr": "EUR", "nl": "EUR", "in": "INR", "sg": "SGD", "nz": "NZD",
}

func formatAdzunaSalary(j adzunaJob, country string) string {
	return normalize.FormatPayRange(j.SalaryMin, j.SalaryMax, adzunaCurrencies[country], "year")
}
