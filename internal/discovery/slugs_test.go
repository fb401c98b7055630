package discovery

import (
	"reflect"
	"testing"
)

func TestCandidateSlugs(t *testing.T) {
	got := CandidateSlugs([]string{"Acme Labs", "stripe", "Bob's Burgers & Co", "  "}, map[string]bool{"stripe": true})

	want := []Candidate{
		{Name: "Acme Labs", Slug: "acme-labs"},
		{Name: "Acme Labs", Slug: "acmelabs"},
		{Name: "Bob's Burgers & Co", Slug: "bobs-burgers-and-co"},
		{Name: "Bob's Burgers & Co", Slug: "bobsburgersandco"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CandidateSlugs() =\n%v\nwant\n%v", got, want)
	}
}

func TestCandidateSlugs_VerbatimAndDedup(t *testing.T) {
	got := CandidateSlugs([]string{"vercel.inc", "Vercel Inc", "vercel-inc"}, nil)

	var slugs []string
	for _, c := range got {
		slugs = append(slugs, c.Slug)
	}
	want := []string{"vercel-inc", "vercelinc", "vercel.inc"}
	if !reflect.DeepEqual(slugs, want) {
		t.Errorf("slugs = %v, want %v", slugs, want)
	}
}
