package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/amishk599/jobsync/internal/model"
)

const ashbyBaseURL = "https://api.ashbyhq.com/posting-api/job-board"

type ashbyCompensation struct {
	CompensationTierSummary             string `json:"compensationTierSummary"`
	ScrapeableCompensationSalarySummary string `json:"scrapeableCompensationSalarySummary"`
}

// ashbyJob represents a single job in the Ashby API response.
type ashbyJob struct {
	Title           string             `json:"title"`
	Department      string             `json:"department"`
	Team            string             `json:"team"`
	EmploymentType  string             `json:"employmentType"`
	Location        string             `json:"location"`
	IsRemote        bool               `json:"isRemote"`
	WorkplaceType   string             `json:"workplaceType"`
	JobURL          string             `json:"jobUrl"`
	PublishedAt     string             `json:"publishedAt"`
	DescriptionHTML string             `json:"descriptionHtml"`
	IsListed        bool               `json:"isListed"`
	Compensation    *ashbyCompensation `json:"compensation"`
}

// ashbyResponse is the top-level Ashby job board API response.
type ashbyResponse struct {
	Jobs []ashbyJob `json:"jobs"`
}

// Ashby reads company boards from the Ashby public job board API.
type Ashby struct {
	baseURL string
	client  *http.Client
}

// NewAshby creates an Ashby board fetcher. An empty baseURL uses the public API.
func NewAshby(client *http.Client, baseURL string) *Ashby {
	if baseURL == "" {
		baseURL = ashbyBaseURL
	}
	return &Ashby{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *Ashby) Name() string { return "ashby" }

// FetchBoard retrieves the listed jobs on the board. Unlisted postings are
// dropped.
func (a *Ashby) FetchBoard(ctx context.Context, ref model.BoardRef) ([]model.RawListing, error) {
	url := fmt.Sprintf("%s/%s?includeCompensation=true", a.baseURL, ref.Slug)

	var ashbyResp ashbyResponse
	if err := getJSON(ctx, a.client, url, &ashbyResp); err != nil {
		return nil, fmt.Errorf("ashby fetch for %s: %w", ref.Slug, err)
	}

	listings := make([]model.RawListing, 0, len(ashbyResp.Jobs))
	for _, aj := range ashbyResp.Jobs {
		if !aj.IsListed {
			continue
		}

		location := aj.Location
		if strings.EqualFold(aj.WorkplaceType, "hybrid") && !strings.Contains(strings.ToLower(location), "hybrid") {
			location = strings.TrimSpace(location + " (Hybrid)")
		}

		l := model.RawListing{
			Title:           strings.TrimSpace(aj.Title),
			Company:         CompanyName(ref),
			DescriptionHTML: aj.DescriptionHTML,
			SourceURL:       aj.JobURL,
			SourceName:      a.Name(),
			Location:        location,
			Department:      aj.Department,
			RemoteHint:      aj.IsRemote,
		}
		for _, tag := range []string{aj.Team, aj.EmploymentType} {
			if tag != "" {
				l.Tags = append(l.Tags, tag)
			}
		}

		if aj.PublishedAt != "" {
			t, err := parseProviderTime(aj.PublishedAt)
			if err != nil {
				return nil, fmt.Errorf("ashby fetch for %s: %s: %w", ref.Slug, aj.JobURL, err)
			}
			l.PostedAt = &t
		}

		if c := aj.Compensation; c != nil {
			l.SalaryText = c.ScrapeableCompensationSalarySummary
			if l.SalaryText == "" {
				l.SalaryText = c.CompensationTierSummary
			}
		}

		listings = append(listings, l)
	}

	return listings, nil
}
