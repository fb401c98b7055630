package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

func TestLeverFetchBoard_Success(t *testing.T) {
	payload := `[
		{
			"id": "ff7ef527-b0d3-4c44-836a-8d6b58ac321e",
			"text": "Software Engineer",
			"description": "<div>Full HTML description</div>",
			"lists": [{"text": "Requirements", "content": "<li>Go</li>"}],
			"additional": "<p>Benefits</p>",
			"categories": {
				"team": "Engineering",
				"department": "Platform",
				"location": "San Francisco, CA",
				"commitment": "Full-time",
				"allLocations": ["San Francisco, CA", "New York, NY"]
			},
			"createdAt": 1769784074110,
			"workplaceType": "hybrid",
			"hostedUrl": "https://jobs.lever.co/acme/ff7ef527",
			"salaryRange": {"min": 120000, "max": 150000, "currency": "USD", "interval": "per-year-salary"}
		},
		{
			"id": "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
			"text": "Backend Engineer",
			"description": "<div>Backend job description</div>",
			"categories": {"location": "Anywhere", "commitment": "Contract"},
			"createdAt": 1769870474110,
			"workplaceType": "remote",
			"hostedUrl": "https://jobs.lever.co/acme/a1b2c3d4"
		}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/acme" || r.URL.Query().Get("mode") != "json" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	listings, err := NewLever(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "acme", Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}

	l := listings[0]
	if l.Location != "San Francisco, CA, New York, NY (Hybrid)" {
		t.Errorf("unexpected location %q", l.Location)
	}
	if l.RemoteHint {
		t.Error("hybrid posting should not carry the remote hint")
	}
	if !strings.Contains(l.DescriptionHTML, "<h3>Requirements</h3><ul><li>Go</li></ul>") || !strings.HasSuffix(l.DescriptionHTML, "<p>Benefits</p>") {
		t.Errorf("lists not stitched into description: %q", l.DescriptionHTML)
	}
	if l.SalaryText != "USD 120000-150000 per year" {
		t.Errorf("unexpected salary %q", l.SalaryText)
	}
	if len(l.Tags) != 2 || l.Tags[0] != "Engineering" || l.Tags[1] != "Full-time" {
		t.Errorf("unexpected tags %v", l.Tags)
	}

	// createdAt is epoch milliseconds.
	want := time.UnixMilli(1769784074110).UTC()
	if l.PostedAt == nil || !l.PostedAt.Equal(want) || l.PostedAt.Location() != time.UTC {
		t.Errorf("expected PostedAt %v, got %v", want, l.PostedAt)
	}
	if l.PostedAt.Year() != 2026 {
		t.Errorf("millisecond timestamp misread as seconds: %v", l.PostedAt)
	}

	if !listings[1].RemoteHint {
		t.Error("expected remote workplace type to set the remote hint")
	}
	if listings[1].Company != "Acme Corp" {
		t.Errorf("unexpected company %q", listings[1].Company)
	}
}

func TestLeverFetchBoard_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewLever(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "gone"})
	if !model.IsNotFound(err) {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestLeverFetchBoard_SlugAsCompanyFallback(t *testing.T) {
	srv := jsonServer(t, `[{"id": "1", "text": "Designer", "hostedUrl": "https://jobs.lever.co/acme/1", "categories": {}}]`)
	defer srv.Close()

	listings, err := NewLever(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listings[0].Company != "acme" {
		t.Errorf("expected slug as company, got %q", listings[0].Company)
	}
	if listings[0].PostedAt != nil {
		t.Errorf("expected nil PostedAt without createdAt, got %v", listings[0].PostedAt)
	}
}
