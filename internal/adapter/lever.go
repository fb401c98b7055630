package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
)

const leverBaseURL = "https://api.lever.co/v0/postings"

// leverCategories represents the categories object in a Lever job.
type leverCategories struct {
	Team         string   `json:"team"`
	Department   string   `json:"department"`
	Location     string   `json:"location"`
	Commitment   string   `json:"commitment"`
	AllLocations []string `json:"allLocations"`
}

type leverList struct {
	Text    string `json:"text"`
	Content string `json:"content"`
}

type leverSalaryRange struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
	Interval string  `json:"interval"`
}

// leverJob represents a single job in the Lever API response.
type leverJob struct {
	ID            string            `json:"id"`
	Text          string            `json:"text"`
	Description   string            `json:"description"`
	Lists         []leverList       `json:"lists"`
	Additional    string            `json:"additional"`
	Categories    leverCategories   `json:"categories"`
	CreatedAt     int64             `json:"createdAt"` // unix milliseconds
	WorkplaceType string            `json:"workplaceType"`
	HostedURL     string            `json:"hostedUrl"`
	SalaryRange   *leverSalaryRange `json:"salaryRange"`
}

// Lever reads company boards from the Lever public postings API.
type Lever struct {
	baseURL string
	client  *http.Client
}

// NewLever creates a Lever board fetcher. An empty baseURL uses the public API.
func NewLever(client *http.Client, baseURL string) *Lever {
	if baseURL == "" {
		baseURL = leverBaseURL
	}
	return &Lever{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *Lever) Name() string { return "lever" }

// FetchBoard retrieves all postings for the company.
func (a *Lever) FetchBoard(ctx context.Context, ref model.BoardRef) ([]model.RawListing, error) {
	url := fmt.Sprintf("%s/%s?mode=json", a.baseURL, ref.Slug)

	var leverJobs []leverJob
	if err := getJSON(ctx, a.client, url, &leverJobs); err != nil {
		return nil, fmt.Errorf("lever fetch for %s: %w", ref.Slug, err)
	}

	listings := make([]model.RawListing, 0, len(leverJobs))
	for _, lj := range leverJobs {
		// Prefer allLocations if available, fallback to location.
		location := lj.Categories.Location
		if len(lj.Categories.AllLocations) > 0 {
			location = strings.Join(lj.Categories.AllLocations, ", ")
		}
		if lj.WorkplaceType == "hybrid" && !strings.Contains(strings.ToLower(location), "hybrid") {
			location = strings.TrimSpace(location + " (Hybrid)")
		}

		l := model.RawListing{
			Title:           strings.TrimSpace(lj.Text),
			Company:         CompanyName(ref),
			DescriptionHTML: leverDescription(lj),
			SourceURL:       lj.HostedURL,
			SourceName:      a.Name(),
			Location:        location,
			Department:      lj.Categories.Department,
			RemoteHint:      lj.WorkplaceType == "remote",
		}
		for _, tag := range []string{lj.Categories.Team, lj.Categories.Commitment} {
			if tag != "" {
				l.Tags = append(l.Tags, tag)
			}
		}
		if lj.CreatedAt > 0 {
			t := normalize.FromEpochMillis(lj.CreatedAt)
			l.PostedAt = &t
		}
		if sr := lj.SalaryRange; sr != nil {
			l.SalaryText = normalize.FormatPayRange(sr.Min, sr.Max, sr.Currency, sr.Interval)
		}

		listings = append(listings, l)
	}

	return listings, nil
}

// leverDescription stitches the opening, the bullet lists and the closing
// section back into one HTML document.
func leverDescription(lj leverJob) string {
	var b strings.Builder
	b.WriteString(lj.Description)
	for _, list := range lj.Lists {
		fmt.Fprintf(&b, "<h3>%s</h3><ul>%s</ul>", list.Text, list.Content)
	}
	b.WriteString(lj.Additional)
	return b.String()
}
