package model

import (
	"strings"
	"testing"
)

func TestDeriveMissingFields_AllCombinations(t *testing.T) {
	cases := []struct {
		name    string
		title   string
		price   string
		desc    string
		missing []FieldName
	}{
		{"complete", "Chair", "45", "A chair", nil},
		{"no_title", "", "45", "A chair", []FieldName{FieldTitle}},
		{"no_price", "Chair", "", "A chair", []FieldName{FieldPrice}},
		{"no_description", "Chair", "45", "", []FieldName{FieldDescription}},
		{"no_title_price", "", "", "A chair", []FieldName{FieldTitle, FieldPrice}},
		{"no_title_description", "", "45", "", []FieldName{FieldTitle, FieldDescription}},
		{"no_price_description", "Chair", "", "", []FieldName{FieldPrice, FieldDescription}},
		{"all_missing", "", "", "", []FieldName{FieldTitle, FieldPrice, FieldDescription}},
		{"whitespace_counts_as_missing", "  ", "45", "A chair", []FieldName{FieldTitle}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Product{Title: tc.title, Price: tc.price, Description: tc.desc}
			got := DeriveMissingFields(p)
			if len(got) != len(tc.missing) {
				t.Fatalf("expected %v, got %v", tc.missing, got)
			}
			for i := range got {
				if got[i] != tc.missing[i] {
					t.Fatalf("expected %v, got %v", tc.missing, got)
				}
			}
			if p.CanPost() != (len(tc.missing) == 0) {
				t.Fatalf("CanPost mismatch for %s", tc.name)
			}
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	terminal := []JobStatus{JobCompleted, JobFailed, JobTimedOut}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []JobStatus{JobQueued, JobRunning, JobStatus("scraping"), JobStatus("pending")}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestDescriptionPreview(t *testing.T) {
	long := strings.Repeat("x", 250)
	p := Product{Description: long}

	preview := p.DescriptionPreview(200)
	if len(preview) != 203 {
		t.Fatalf("expected 203 chars (200 + ellipsis), got %d", len(preview))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Fatalf("expected ellipsis suffix")
	}

	short := Product{Description: "short"}
	if short.DescriptionPreview(200) != "short" {
		t.Fatalf("short description should pass through unchanged")
	}
}

func TestEnrichedProduct_FirstImagePath(t *testing.T) {
	ep := EnrichedProduct{}
	if ep.FirstImagePath() != "" {
		t.Fatalf("expected empty thumbnail for no images")
	}
	ep.Images = []ProductImage{{ID: "1", Path: "/img/a.jpg", Ordinal: 0}, {ID: "2", Path: "/img/b.jpg", Ordinal: 1}}
	if ep.FirstImagePath() != "/img/a.jpg" {
		t.Fatalf("expected first image path, got %s", ep.FirstImagePath())
	}
}
