package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amishk599/jobsync/internal/model"
)

func TestAshbyFetchBoard_Success(t *testing.T) {
	payload := `{
		"apiVersion": "1",
		"jobs": [
			{
				"title": "Software Engineer",
				"department": "Engineering",
				"team": "Platform",
				"employmentType": "FullTime",
				"location": "San Francisco, CA",
				"workplaceType": "Hybrid",
				"isRemote": false,
				"jobUrl": "https://jobs.ashbyhq.com/acme/abc-123",
				"publishedAt": "2026-02-13T10:00:00.000+00:00",
				"descriptionHtml": "<p>Hello</p>",
				"isListed": true,
				"compensation": {"compensationTierSummary": "$150K – $190K", "scrapeableCompensationSalarySummary": "$150K - $190K"}
			},
			{
				"title": "Backend Engineer",
				"location": "United States",
				"isRemote": true,
				"jobUrl": "https://jobs.ashbyhq.com/acme/def-456",
				"publishedAt": "2026-02-13T11:30:00Z",
				"isListed": true
			},
			{
				"title": "Unlisted Role",
				"location": "NYC",
				"jobUrl": "https://jobs.ashbyhq.com/acme/ghi-789",
				"publishedAt": "2026-02-13T12:00:00Z",
				"isListed": false
			}
		]
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/acme" || r.URL.Query().Get("includeCompensation") != "true" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	listings, err := NewAshby(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "acme", Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings (unlisted filtered), got %d", len(listings))
	}

	l := listings[0]
	if l.Company != "Acme Corp" || l.SourceName != "ashby" {
		t.Errorf("unexpected company/source %q %q", l.Company, l.SourceName)
	}
	if l.Location != "San Francisco, CA (Hybrid)" {
		t.Errorf("unexpected location %q", l.Location)
	}
	if l.SalaryText != "$150K - $190K" {
		t.Errorf("unexpected salary %q", l.SalaryText)
	}
	if l.Department != "Engineering" || len(l.Tags) != 2 {
		t.Errorf("unexpected department/tags %q %v", l.Department, l.Tags)
	}
	if l.PostedAt == nil || l.PostedAt.Hour() != 10 || l.PostedAt.Day() != 13 {
		t.Errorf("unexpected PostedAt: %v", l.PostedAt)
	}

	if !listings[1].RemoteHint {
		t.Error("expected isRemote to set the remote hint")
	}
}

func TestAshbyFetchBoard_EmptyBoard(t *testing.T) {
	srv := jsonServer(t, `{"jobs": []}`)
	defer srv.Close()

	listings, err := NewAshby(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "empty"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("expected 0 listings, got %d", len(listings))
	}
}

func TestAshbyFetchBoard_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewAshby(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "fail"})
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}
