package orchestrator

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	types "github.com/seatutor/mariner-backend/internal/domain"
)

func TestMergeCitationsByDocumentPage(t *testing.T) {
	doc := uuid.New()
	other := uuid.New()
	in := []types.Citation{
		{DocumentID: doc, Page: 12, Snippet: "first", BoundingBoxes: []types.BoundingBox{{X0: 1, Y0: 1, X1: 2, Y1: 2}}},
		{DocumentID: doc, Page: 12, Snippet: "second", BoundingBoxes: []types.BoundingBox{{X0: 3, Y0: 3, X1: 4, Y1: 4}}, ImageURL: "https://img/p12.png"},
		{DocumentID: doc, Page: 13, Snippet: "next page"},
		{DocumentID: other, Page: 12, Snippet: "other doc"},
	}

	out := mergeCitations(in)
	if len(out) != 3 {
		t.Fatalf("merged = %d, want 3", len(out))
	}
	if out[0].Snippet != "first" {
		t.Fatalf("the first snippet wins, got %q", out[0].Snippet)
	}
	if len(out[0].BoundingBoxes) != 2 {
		t.Fatalf("bounding boxes should union, got %d", len(out[0].BoundingBoxes))
	}
	if out[0].ImageURL != "https://img/p12.png" {
		t.Fatalf("a later image URL should fill the gap, got %q", out[0].ImageURL)
	}
}

func TestMergeCitationsEmpty(t *testing.T) {
	if out := mergeCitations(nil); len(out) != 0 {
		t.Fatalf("merged = %v", out)
	}
}

func TestEvidenceImages(t *testing.T) {
	doc := uuid.New()
	sources := []types.Citation{
		{DocumentID: doc, Page: 1, ImageURL: "https://img/a.png"},
		{DocumentID: doc, Page: 2},
		{DocumentID: doc, Page: 3, ImageURL: "https://img/b.png"},
	}
	got := evidenceImages(sources)
	want := []string{"https://img/a.png", "https://img/b.png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("images = %v, want %v", got, want)
	}
}

func TestTopicsIn(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{"what does rule 15 say about crossing?", []string{"colregs"}},
		{"SOLAS lifeboat drills and MARPOL annex V", []string{"marpol", "solas"}},
		{"em muốn hỏi về cướp biển", []string{"safety"}},
		{"radar bearing fix on the chart", []string{"navigation"}},
		{"hello there", nil},
	}
	for _, c := range cases {
		got := topicsIn(c.text)
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("topicsIn(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestTopicsInDeterministicOrder(t *testing.T) {
	text := "STCW watchkeeping during a COLREGs crossing with radar"
	first := topicsIn(text)
	for i := 0; i < 10; i++ {
		if got := topicsIn(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("order must be stable across calls: %v vs %v", got, first)
		}
	}
	if !reflect.DeepEqual(first, []string{"colregs", "navigation", "stcw"}) {
		t.Fatalf("topics = %v", first)
	}
}

func TestSnippetTextKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("nhường đường cho tàu thuyền ", 40)
	got := snippetText(long, 90)
	if !utf8.ValidString(got) {
		t.Fatalf("snippetText produced invalid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != 91 { // 90 runes + ellipsis
		t.Fatalf("snippetText length = %d runes, want 91", n)
	}
}
