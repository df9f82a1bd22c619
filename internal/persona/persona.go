package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// Persona is a fully resolved prompt template. Inheritance via `extends` is
// flattened at load time; nothing is resolved per request.
type Persona struct {
	Name         string `yaml:"name"`
	Extends      string `yaml:"extends,omitempty"`
	SystemPrompt string `yaml:"system_prompt"`
	Style        string `yaml:"style,omitempty"`
	PronounRule  string `yaml:"pronoun_rule,omitempty"`
	Language     string `yaml:"language,omitempty"`
}

type Loader struct {
	log      *logger.Logger
	personas map[string]*Persona
}

// Load reads every *.yaml in dir and resolves extends chains. Cycles and
// missing parents are load errors, not request-time surprises.
func Load(log *logger.Logger, dir string) (*Loader, error) {
	if log == nil {
		return nil, fmt.Errorf("persona: logger required")
	}
	entries, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("persona: glob %s: %w", dir, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("persona: no persona files in %s", dir)
	}

	raw := make(map[string]*Persona, len(entries))
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("persona: read %s: %w", path, err)
		}
		var p Persona
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("persona: parse %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
		}
		raw[p.Name] = &p
	}

	resolved := make(map[string]*Persona, len(raw))
	for name := range raw {
		p, err := resolve(raw, name, nil)
		if err != nil {
			return nil, err
		}
		resolved[name] = p
	}
	log.With("service", "PersonaLoader").Info("personas loaded", "count", len(resolved), "dir", dir)
	return &Loader{log: log, personas: resolved}, nil
}

// resolve flattens the extends chain child-over-parent.
func resolve(raw map[string]*Persona, name string, seen []string) (*Persona, error) {
	for _, s := range seen {
		if s == name {
			return nil, fmt.Errorf("persona: extends cycle through %q", name)
		}
	}
	p, ok := raw[name]
	if !ok {
		return nil, fmt.Errorf("persona: unknown persona %q", name)
	}
	if p.Extends == "" {
		out := *p
		return &out, nil
	}
	parent, err := resolve(raw, p.Extends, append(seen, name))
	if err != nil {
		return nil, err
	}
	out := *parent
	out.Name = p.Name
	out.Extends = ""
	if p.SystemPrompt != "" {
		out.SystemPrompt = parent.SystemPrompt + "\n\n" + p.SystemPrompt
	}
	if p.Style != "" {
		out.Style = p.Style
	}
	if p.PronounRule != "" {
		out.PronounRule = p.PronounRule
	}
	if p.Language != "" {
		out.Language = p.Language
	}
	return &out, nil
}

// Get returns the persona for a role, falling back to "base".
func (l *Loader) Get(role string) *Persona {
	if p, ok := l.personas[role]; ok {
		return p
	}
	return l.personas["base"]
}

// PromptInput carries the per-request values substituted into the template.
type PromptInput struct {
	UserName      string
	PronounStyle  string
	MemorySnippet string
	ToolGuide     string
	AvoidOpeners  []string
}

// BuildPrompt assembles the final system prompt for one request.
func (l *Loader) BuildPrompt(role string, in PromptInput) string {
	p := l.Get(role)
	if p == nil {
		return ""
	}
	name := in.UserName
	if name == "" {
		name = "the student"
	}
	var sb strings.Builder
	sb.WriteString(strings.ReplaceAll(p.SystemPrompt, "{{user_name}}", name))
	if p.Style != "" {
		sb.WriteString("\n\nStyle: " + p.Style)
	}
	if in.PronounStyle != "" {
		sb.WriteString("\n\nAddress the student using the Vietnamese register \"" + in.PronounStyle + "\" consistently.")
	} else if p.PronounRule != "" {
		sb.WriteString("\n\n" + p.PronounRule)
	}
	if in.MemorySnippet != "" {
		sb.WriteString("\n\nWhat you know about " + name + ":\n" + in.MemorySnippet)
	}
	if in.ToolGuide != "" {
		sb.WriteString("\n\n" + in.ToolGuide)
	}
	if len(in.AvoidOpeners) > 0 {
		sb.WriteString("\n\nDo not begin your reply with any of these recent openers:\n")
		for _, o := range in.AvoidOpeners {
			sb.WriteString("- " + o + "\n")
		}
	}
	return sb.String()
}
