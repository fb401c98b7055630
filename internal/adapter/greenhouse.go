package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
)

const greenhouseBaseURL = "https://boards-api.greenhouse.io/v1/boards"

// greenhouseJob represents a single job in the Greenhouse API response.
type greenhouseJob struct {
	ID             int64                  `json:"id"`
	Title          string                 `json:"title"`
	Location       greenhouseLocation     `json:"location"`
	AbsoluteURL    string                 `json:"absolute_url"`
	UpdatedAt      string                 `json:"updated_at"`
	FirstPublished string                 `json:"first_published"`
	Content        string                 `json:"content"` // HTML, entity-encoded
	Departments    []greenhouseDepartment `json:"departments"`
	PayInputRanges []greenhousePayRange   `json:"pay_input_ranges"`
}

type greenhouseLocation struct {
	Name string `json:"name"`
}

type greenhouseDepartment struct {
	Name string `json:"name"`
}

type greenhousePayRange struct {
	MinCents     int64  `json:"min_cents"`
	MaxCents     int64  `json:"max_cents"`
	CurrencyType string `json:"currency_type"`
}

// greenhouseResponse is the top-level Greenhouse jobs API response.
type greenhouseResponse struct {
	Jobs []greenhouseJob `json:"jobs"`
}

// Greenhouse reads company boards from the Greenhouse public boards API.
type Greenhouse struct {
	baseURL string
	client  *http.Client
}

// NewGreenhouse creates a Greenhouse board fetcher. An empty baseURL uses
// the public API.
func NewGreenhouse(client *http.Client, baseURL string) *Greenhouse {
	if baseURL == "" {
		baseURL = greenhouseBaseURL
	}
	return &Greenhouse{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *Greenhouse) Name() string { return "greenhouse" }

// FetchBoard retrieves every job on the board with its description in a
// single request.
func (a *Greenhouse) FetchBoard(ctx context.Context, ref model.BoardRef) ([]model.RawListing, error) {
	url := fmt.Sprintf("%s/%s/jobs?content=true&pay_transparency=true", a.baseURL, ref.Slug)

	var ghResp greenhouseResponse
	if err := getJSON(ctx, a.client, url, &ghResp); err != nil {
		return nil, fmt.Errorf("greenhouse fetch for %s: %w", ref.Slug, err)
	}

	listings := make([]model.RawListing, 0, len(ghResp.Jobs))
	for _, gj := range ghResp.Jobs {
		l := model.RawListing{
			Title:           strings.TrimSpace(gj.Title),
			Company:         CompanyName(ref),
			DescriptionHTML: gj.Content,
			SourceURL:       gj.AbsoluteURL,
			SourceName:      a.Name(),
			Location:        gj.Location.Name,
		}

		// first_published is the original posting date; updated_at moves on
		// every edit and is only a fallback.
		published := gj.FirstPublished
		if published == "" {
			published = gj.UpdatedAt
		}
		if published != "" {
			t, err := parseProviderTime(published)
			if err != nil {
				return nil, fmt.Errorf("greenhouse fetch for %s: job %d: %w", ref.Slug, gj.ID, err)
			}
			l.PostedAt = &t
		}

		if len(gj.Departments) > 0 {
			names := make([]string, 0, len(gj.Departments))
			for _, d := range gj.Departments {
				names = append(names, d.Name)
			}
			l.Department = strings.Join(names, ", ")
			l.Tags = names
		}

		if len(gj.PayInputRanges) > 0 {
			pr := gj.PayInputRanges[0]
			l.SalaryText = normalize.FormatPayRange(float64(pr.MinCents)/100, float64(pr.MaxCents)/100, pr.CurrencyType, "")
		}

		listings = append(listings, l)
	}

	return listings, nil
}
