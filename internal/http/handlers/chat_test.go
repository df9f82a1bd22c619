package handlers

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitAnswerRuneBoundaries(t *testing.T) {
	// Vietnamese text is multi-byte; chunking must never split a rune
	answer := strings.Repeat("thuyền trưởng điều khiển tàu ", 20)
	chunks := splitAnswer(answer, answerChunkSize)

	var rebuilt strings.Builder
	for _, c := range chunks {
		if n := len([]rune(c)); n > answerChunkSize {
			t.Fatalf("chunk has %d runes, cap is %d", n, answerChunkSize)
		}
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %q is not valid UTF-8 text", c)
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != answer {
		t.Fatalf("chunks must concatenate back to the original answer")
	}
}

func TestSplitAnswerShort(t *testing.T) {
	chunks := splitAnswer("short answer", answerChunkSize)
	if len(chunks) != 1 || chunks[0] != "short answer" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitAnswerEmpty(t *testing.T) {
	if chunks := splitAnswer("", answerChunkSize); len(chunks) != 0 {
		t.Fatalf("empty answer should produce no chunks, got %v", chunks)
	}
}

func TestSplitAnswerExactMultiple(t *testing.T) {
	answer := strings.Repeat("x", answerChunkSize*2)
	chunks := splitAnswer(answer, answerChunkSize)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
}
