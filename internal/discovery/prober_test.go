package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/amishk599/jobsync/internal/categorize"
	"github.com/amishk599/jobsync/internal/filter"
	"github.com/amishk599/jobsync/internal/model"
)

type fakeFetcher struct {
	boards map[string][]model.RawListing
	errs   []error // returned in order before boards is consulted
	calls  int
}

func (f *fakeFetcher) Name() string { return "greenhouse" }

func (f *fakeFetcher) FetchBoard(_ context.Context, ref model.BoardRef) ([]model.RawListing, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	listings, ok := f.boards[ref.Slug]
	if !ok {
		return nil, &model.HTTPError{StatusCode: http.StatusNotFound}
	}
	return listings, nil
}

func newTestProber(f *fakeFetcher) *Prober {
	return NewProber(f, filter.NewRemoteClassifier(nil), categorize.New(categorize.DefaultTaxonomy()),
		ProberConfig{Attempts: 3, Backoff: time.Millisecond, Timeout: time.Second}, nil)
}

func TestProbe_Success(t *testing.T) {
	f := &fakeFetcher{boards: map[string][]model.RawListing{
		"acme": {
			{Title: "Senior Data Scientist", Location: "Remote, US", Department: "Data"},
			{Title: "Data Analyst", Location: "Anywhere"},
			{Title: "Office Manager", Location: "Berlin"},
		},
	}}
	res, err := newTestProber(f).Probe(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", res.Outcome)
	}
	if res.Total != 3 || res.RemoteJobs != 2 {
		t.Errorf("total/remote = %d/%d, want 3/2", res.Total, res.RemoteJobs)
	}
	if res.SuggestedCategoryID != categorize.DataScience {
		t.Errorf("suggested category = %d, want %d", res.SuggestedCategoryID, categorize.DataScience)
	}
}

func TestProbe_NoRemote(t *testing.T) {
	f := &fakeFetcher{boards: map[string][]model.RawListing{
		"acme": {{Title: "Barista", Location: "Paris"}},
	}}
	res, err := newTestProber(f).Probe(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNoRemote {
		t.Errorf("outcome = %s, want no_remote", res.Outcome)
	}
}

func TestProbe_NotFoundIsNotRetried(t *testing.T) {
	f := &fakeFetcher{}
	res, err := newTestProber(f).Probe(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Errorf("outcome = %s, want not_found", res.Outcome)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestProbe_TransientRetriedThenGivesUp(t *testing.T) {
	unavailable := &model.HTTPError{StatusCode: http.StatusServiceUnavailable}
	f := &fakeFetcher{errs: []error{unavailable, unavailable, unavailable}}
	res, err := newTestProber(f).Probe(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeTransient {
		t.Errorf("outcome = %s, want transient", res.Outcome)
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
}

func TestProbe_TransientRecovers(t *testing.T) {
	f := &fakeFetcher{
		errs:   []error{&model.HTTPError{StatusCode: http.StatusBadGateway}},
		boards: map[string][]model.RawListing{"acme": {{Title: "Engineer", RemoteHint: true}}},
	}
	res, err := newTestProber(f).Probe(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeSuccess || f.calls != 2 {
		t.Errorf("outcome = %s after %d calls, want success after 2", res.Outcome, f.calls)
	}
}

func TestProbe_UnmappableIsFatal(t *testing.T) {
	f := &fakeFetcher{errs: []error{fmt.Errorf("bad date: %w", model.ErrUnmappable)}}
	_, err := newTestProber(f).Probe(context.Background(), "acme")
	if !errors.Is(err, model.ErrUnmappable) {
		t.Errorf("err = %v, want ErrUnmappable", err)
	}
}
