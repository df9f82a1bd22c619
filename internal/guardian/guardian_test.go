package guardian

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type countingJudge struct {
	calls    int
	decision string
	pronoun  string
	err      error
}

func (c *countingJudge) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return map[string]any{"decision": c.decision, "reason": "judged", "pronoun_style": c.pronoun}, nil
}

func newGuardian(t *testing.T, llm JudgeLLM) Guardian {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	g, err := New(log, llm, nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNewDefaultsCacheTTL(t *testing.T) {
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	g, err := New(log, &countingJudge{decision: DecisionAllow}, nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := g.(*guardian).ttl; got != 30*time.Minute {
		t.Fatalf("ttl = %v, want the configured 30m", got)
	}
	g, err = New(log, &countingJudge{decision: DecisionAllow}, nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := g.(*guardian).ttl; got != defaultCacheTTL {
		t.Fatalf("ttl = %v, want the default", got)
	}
}

func TestCheckGreetingSkipsJudge(t *testing.T) {
	judge := &countingJudge{decision: DecisionBlock}
	g := newGuardian(t, judge)

	for _, msg := range []string{"hi", "Hello!", "chào thầy", "Cảm ơn", "thanks a lot"} {
		res := g.Check(context.Background(), msg, "u1")
		if res.Decision != DecisionAllow {
			t.Fatalf("%q: decision = %s, want ALLOW", msg, res.Decision)
		}
	}
	if judge.calls != 0 {
		t.Fatalf("greetings must not reach the judge, got %d calls", judge.calls)
	}
}

func TestCheckLongMessageIsNotGreeting(t *testing.T) {
	judge := &countingJudge{decision: DecisionAllow}
	g := newGuardian(t, judge)

	g.Check(context.Background(), "hi, can you explain the difference between Rule 13 and Rule 15 of the COLREGs?", "u1")
	if judge.calls != 1 {
		t.Fatalf("a substantive message starting with a salutation must be judged")
	}
}

func TestCheckJudgeVerdictAndPronoun(t *testing.T) {
	judge := &countingJudge{decision: DecisionAllow, pronoun: "em-thầy"}
	g := newGuardian(t, judge)

	res := g.Check(context.Background(), "Dạ thầy ơi, em chưa hiểu quy tắc 15", "u1")
	if res.Decision != DecisionAllow {
		t.Fatalf("decision = %s", res.Decision)
	}
	if res.PronounStyle != "em-thầy" {
		t.Fatalf("pronoun style = %q", res.PronounStyle)
	}
}

func TestCheckRuleFallbackOnJudgeFailure(t *testing.T) {
	judge := &countingJudge{err: fmt.Errorf("llm down")}
	g := newGuardian(t, judge)

	t.Run("abusive pronoun blocks", func(t *testing.T) {
		res := g.Check(context.Background(), "mày trả lời đi", "u1")
		if res.Decision != DecisionBlock {
			t.Fatalf("decision = %s, want BLOCK", res.Decision)
		}
	})
	t.Run("maritime topic allows", func(t *testing.T) {
		res := g.Check(context.Background(), "what does SOLAS say about lifeboats?", "u1")
		if res.Decision != DecisionAllow {
			t.Fatalf("decision = %s, want ALLOW", res.Decision)
		}
	})
	t.Run("unknown territory flags", func(t *testing.T) {
		res := g.Check(context.Background(), "tell me about something else entirely", "u1")
		if res.Decision != DecisionFlag {
			t.Fatalf("decision = %s, want FLAG", res.Decision)
		}
	})
}

func TestCheckEmptyMessageAllows(t *testing.T) {
	judge := &countingJudge{decision: DecisionBlock}
	g := newGuardian(t, judge)
	if res := g.Check(context.Background(), "   ", "u1"); res.Decision != DecisionAllow {
		t.Fatalf("empty message must be allowed, got %s", res.Decision)
	}
}

func TestBlockedResponseRegister(t *testing.T) {
	if !strings.Contains(BlockedResponse("em-thầy"), "Thầy") {
		t.Fatalf("em register should get the Vietnamese response")
	}
	if strings.Contains(BlockedResponse("tôi-bạn"), "Thầy") {
		t.Fatalf("neutral register should get the English response")
	}
}
