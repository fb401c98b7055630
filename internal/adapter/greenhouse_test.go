package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

func TestGreenhouseFetchBoard_Success(t *testing.T) {
	payload := `{
		"jobs": [
			{
				"id": 12345,
				"title": "Software Engineer",
				"location": {"name": "San Francisco, CA"},
				"absolute_url": "https://boards.greenhouse.io/acme/jobs/12345",
				"first_published": "2026-02-10T09:00:00-05:00",
				"updated_at": "2026-02-13T10:00:00Z",
				"content": "&lt;p&gt;Build things.&lt;/p&gt;",
				"departments": [{"name": "Engineering"}],
				"pay_input_ranges": [{"min_cents": 12000000, "max_cents": 15000000, "currency_type": "USD"}]
			},
			{
				"id": 67890,
				"title": "Backend Engineer",
				"location": {"name": "Remote, US"},
				"absolute_url": "https://boards.greenhouse.io/acme/jobs/67890",
				"updated_at": "2026-02-13T11:30:00Z"
			}
		]
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/boards/acme/jobs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("content") != "true" {
			t.Errorf("expected content=true, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	// Point the default public URL at the test server via a custom transport.
	a := NewGreenhouse(&http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			req.URL.Scheme = "http"
			req.URL.Host = srv.Listener.Addr().String()
			return http.DefaultTransport.RoundTrip(req)
		}),
	}, "")

	listings, err := a.FetchBoard(context.Background(), model.BoardRef{Slug: "acme", Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}

	l := listings[0]
	if l.Company != "Acme Corp" {
		t.Errorf("expected company Acme Corp, got %s", l.Company)
	}
	if l.SourceName != "greenhouse" {
		t.Errorf("expected source greenhouse, got %s", l.SourceName)
	}
	if l.SourceURL != "https://boards.greenhouse.io/acme/jobs/12345" {
		t.Errorf("unexpected source url %s", l.SourceURL)
	}
	if l.Department != "Engineering" || len(l.Tags) != 1 {
		t.Errorf("unexpected department/tags: %q %v", l.Department, l.Tags)
	}
	if l.SalaryText != "USD 120000-150000" {
		t.Errorf("unexpected salary %q", l.SalaryText)
	}
	want := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	if l.PostedAt == nil || !l.PostedAt.Equal(want) || l.PostedAt.Location() != time.UTC {
		t.Errorf("expected PostedAt %v UTC, got %v", want, l.PostedAt)
	}

	// No first_published falls back to updated_at.
	if listings[1].PostedAt == nil || listings[1].PostedAt.Hour() != 11 {
		t.Errorf("expected fallback to updated_at, got %v", listings[1].PostedAt)
	}
}

func TestGreenhouseFetchBoard_EmptyBoard(t *testing.T) {
	srv := jsonServer(t, `{"jobs": []}`)
	defer srv.Close()

	listings, err := NewGreenhouse(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "empty-co"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("expected 0 listings, got %d", len(listings))
	}
}

func TestGreenhouseFetchBoard_MalformedJSON(t *testing.T) {
	srv := jsonServer(t, `{not valid json`)
	defer srv.Close()

	_, err := NewGreenhouse(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "bad-co"})
	if !errors.Is(err, model.ErrUnstructuredResponse) {
		t.Fatalf("expected ErrUnstructuredResponse for malformed JSON, got %v", err)
	}
}

func TestGreenhouseFetchBoard_HTMLResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	_, err := NewGreenhouse(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "acme"})
	if !errors.Is(err, model.ErrUnstructuredResponse) {
		t.Fatalf("expected ErrUnstructuredResponse, got %v", err)
	}
}

func TestGreenhouseFetchBoard_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGreenhouse(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "fail-co"})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *model.HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests || httpErr.RetryAfter != 30*time.Second {
		t.Errorf("unexpected HTTPError %+v", httpErr)
	}
}

func TestGreenhouseFetchBoard_BadTimestamp(t *testing.T) {
	srv := jsonServer(t, `{"jobs": [{"id": 1, "title": "X", "absolute_url": "u", "first_published": "last tuesday"}]}`)
	defer srv.Close()

	_, err := NewGreenhouse(srv.Client(), srv.URL).FetchBoard(context.Background(), model.BoardRef{Slug: "acme"})
	if !errors.Is(err, model.ErrUnmappable) {
		t.Fatalf("expected ErrUnmappable, got %v", err)
	}
}

// roundTripFunc adapts a function to http.RoundTripper for test transports.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}
