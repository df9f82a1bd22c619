package openai

import "testing"

func TestDefaultBaseURL(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"openai", "https://api.openai.com/v1"},
		{"OpenRouter", "https://openrouter.ai/api/v1"},
		{"groq", "https://api.groq.com/openai/v1"},
		{"", "https://api.openai.com/v1"},
		{"something-else", "https://api.openai.com/v1"},
	}
	for _, c := range cases {
		if got := DefaultBaseURL(c.provider); got != c.want {
			t.Fatalf("DefaultBaseURL(%q) = %q, want %q", c.provider, got, c.want)
		}
	}
}
