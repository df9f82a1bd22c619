package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

func writePersonas(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func mustLoad(t *testing.T, dir string) *Loader {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	l, err := Load(log, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return l
}

func TestLoadFlattensExtends(t *testing.T) {
	dir := writePersonas(t, map[string]string{
		"base.yaml": `name: base
system_prompt: "You are Sea Tutor for {{user_name}}."
style: "warm"
pronoun_rule: "Default to em-thầy."`,
		"student.yaml": `name: student
extends: base
system_prompt: "Teach socratically."
style: "socratic"`,
	})
	l := mustLoad(t, dir)

	p := l.Get("student")
	if p.Extends != "" {
		t.Fatalf("extends must be flattened at load")
	}
	if !strings.Contains(p.SystemPrompt, "Sea Tutor") || !strings.Contains(p.SystemPrompt, "Teach socratically.") {
		t.Fatalf("child prompt should append to parent:\n%s", p.SystemPrompt)
	}
	if p.Style != "socratic" {
		t.Fatalf("scalar fields override, style = %q", p.Style)
	}
	if p.PronounRule != "Default to em-thầy." {
		t.Fatalf("unset child fields inherit, pronoun_rule = %q", p.PronounRule)
	}
}

func TestLoadRejectsCycle(t *testing.T) {
	dir := writePersonas(t, map[string]string{
		"a.yaml": "name: a\nextends: b\nsystem_prompt: x",
		"b.yaml": "name: b\nextends: a\nsystem_prompt: y",
	})
	log, _ := logger.New("dev")
	if _, err := Load(log, dir); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected a cycle error, got %v", err)
	}
}

func TestLoadRejectsMissingParent(t *testing.T) {
	dir := writePersonas(t, map[string]string{
		"a.yaml": "name: a\nextends: nonexistent\nsystem_prompt: x",
	})
	log, _ := logger.New("dev")
	if _, err := Load(log, dir); err == nil {
		t.Fatalf("expected an unknown-parent error")
	}
}

func TestGetFallsBackToBase(t *testing.T) {
	dir := writePersonas(t, map[string]string{
		"base.yaml": "name: base\nsystem_prompt: base prompt",
	})
	l := mustLoad(t, dir)
	if p := l.Get("no-such-role"); p == nil || p.Name != "base" {
		t.Fatalf("unknown role should fall back to base, got %+v", p)
	}
}

func TestBuildPrompt(t *testing.T) {
	dir := writePersonas(t, map[string]string{
		"base.yaml": `name: base
system_prompt: "You teach {{user_name}}."
pronoun_rule: "Default register rule."`,
	})
	l := mustLoad(t, dir)

	t.Run("substitutes user name", func(t *testing.T) {
		out := l.BuildPrompt("base", PromptInput{UserName: "Minh"})
		if !strings.Contains(out, "You teach Minh.") {
			t.Fatalf("prompt = %q", out)
		}
	})
	t.Run("defaults the name", func(t *testing.T) {
		out := l.BuildPrompt("base", PromptInput{})
		if !strings.Contains(out, "You teach the student.") {
			t.Fatalf("prompt = %q", out)
		}
	})
	t.Run("pronoun style beats the rule", func(t *testing.T) {
		out := l.BuildPrompt("base", PromptInput{PronounStyle: "em-thầy"})
		if !strings.Contains(out, `"em-thầy"`) || strings.Contains(out, "Default register rule.") {
			t.Fatalf("prompt = %q", out)
		}
	})
	t.Run("avoid openers listed", func(t *testing.T) {
		out := l.BuildPrompt("base", PromptInput{AvoidOpeners: []string{"Great question!"}})
		if !strings.Contains(out, "- Great question!") {
			t.Fatalf("prompt = %q", out)
		}
	})
}

func TestLoadEmptyDirErrors(t *testing.T) {
	log, _ := logger.New("dev")
	if _, err := Load(log, t.TempDir()); err == nil {
		t.Fatalf("a directory without personas must fail to load")
	}
}
