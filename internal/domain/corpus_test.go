package domain

import "testing"

func TestIndexTextContextualToggle(t *testing.T) {
	t.Cleanup(func() { SetContextualIndexing(true) })

	c := &Chunk{
		Content:           "Rule 15. Crossing situation.",
		ContextualContent: "COLREGs Part B, Rule 15: when two power-driven vessels are crossing...",
	}
	if got := c.IndexText(); got != c.ContextualContent {
		t.Fatalf("IndexText = %q, want the contextual variant by default", got)
	}

	SetContextualIndexing(false)
	if got := c.IndexText(); got != c.Content {
		t.Fatalf("IndexText = %q, want the raw content when contextual indexing is off", got)
	}

	SetContextualIndexing(true)
	bare := &Chunk{Content: "raw only"}
	if got := bare.IndexText(); got != "raw only" {
		t.Fatalf("IndexText = %q, want raw content when no contextual variant exists", got)
	}
}
