package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/seatutor/mariner-backend/internal/platform/apierr"
)

// Tool categories and access levels. READ tools are safe for any agent;
// WRITE tools mutate user memory and are bound only where intended.
const (
	CategoryRAG     = "RAG"
	CategoryMemory  = "MEMORY"
	CategoryTutor   = "TUTOR"
	CategoryControl = "CONTROL"

	AccessRead  = "READ"
	AccessWrite = "WRITE"
)

// CallContext carries the request identity into tool handlers.
type CallContext struct {
	UserID       string
	SessionID    string
	Role         string
	PronounStyle string
}

type Handler func(ctx context.Context, args map[string]any, call CallContext) (any, error)

type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Category    string
	Access      string
	Handler     Handler
}

// Registry holds the process-wide tool set, built once at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool: invalid registration")
	}
	switch t.Category {
	case CategoryRAG, CategoryMemory, CategoryTutor, CategoryControl:
	default:
		return fmt.Errorf("tool: unknown category %q for %s", t.Category, t.Name)
	}
	switch t.Access {
	case AccessRead, AccessWrite:
	default:
		return fmt.Errorf("tool: unknown access %q for %s", t.Access, t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tool: duplicate name %q", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sortTools(out)
	return out
}

func (r *Registry) ByCategory(categories ...string) []*Tool {
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tool
	for _, t := range r.tools {
		if want[t.Category] {
			out = append(out, t)
		}
	}
	sortTools(out)
	return out
}

func (r *Registry) ReadOnlySubset() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tool
	for _, t := range r.tools {
		if t.Access == AccessRead {
			out = append(out, t)
		}
	}
	sortTools(out)
	return out
}

func sortTools(ts []*Tool) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
}

// Invoke runs a tool by name with one in-tool retry on transient failures.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, call CallContext) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, apierr.Permanent(fmt.Errorf("tool: unknown tool %q", name))
	}
	res, err := t.Handler(ctx, args, call)
	if err != nil && apierr.IsTransient(err) && ctx.Err() == nil {
		res, err = t.Handler(ctx, args, call)
	}
	return res, err
}
