package session

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const openerRingCap = 5

// State is per-session ephemeral memory. It never persists and never
// crosses sessions: the map is keyed by server-generated session ids.
type State struct {
	SessionID     uuid.UUID
	UserID        string
	PronounStyle  string
	RecentOpeners []string
	LastAgent     string
	LastTopics    []string
	UpdatedAt     time.Time
}

type Store struct {
	mu     sync.Mutex
	states map[uuid.UUID]*State
}

func NewStore() *Store {
	return &Store{states: make(map[uuid.UUID]*State)}
}

// Get returns a copy of the session state, creating it on first touch.
func (s *Store) Get(sessionID uuid.UUID, userID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[sessionID]
	if st == nil {
		st = &State{SessionID: sessionID, UserID: userID, UpdatedAt: time.Now()}
		s.states[sessionID] = st
	}
	out := *st
	out.RecentOpeners = append([]string(nil), st.RecentOpeners...)
	out.LastTopics = append([]string(nil), st.LastTopics...)
	return out
}

// RecordTurn updates anti-repetition and routing state after an assistant turn.
func (s *Store) RecordTurn(sessionID uuid.UUID, answer, agent string, topics []string) {
	opener := firstSentence(answer)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[sessionID]
	if st == nil {
		return
	}
	if opener != "" {
		st.RecentOpeners = append(st.RecentOpeners, opener)
		if len(st.RecentOpeners) > openerRingCap {
			st.RecentOpeners = st.RecentOpeners[len(st.RecentOpeners)-openerRingCap:]
		}
	}
	if agent != "" {
		st.LastAgent = agent
	}
	if len(topics) > 0 {
		st.LastTopics = topics
	}
	st.UpdatedAt = time.Now()
}

// SetPronounStyle updates the style only when the new observation is
// non-empty, so a turn without pronoun signal never resets it.
func (s *Store) SetPronounStyle(sessionID uuid.UUID, style string) {
	style = strings.TrimSpace(style)
	if style == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.states[sessionID]; st != nil {
		st.PronounStyle = style
		st.UpdatedAt = time.Now()
	}
}

// Evict drops sessions idle longer than maxIdle. Called periodically by the
// background scheduler.
func (s *Store) Evict(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.states {
		if st.UpdatedAt.Before(cutoff) {
			delete(s.states, id)
			n++
		}
	}
	return n
}

var (
	emThayPattern = regexp.MustCompile(`(?i)\b(em|thầy ơi|cô ơi|dạ)\b`)
	toiBanPattern = regexp.MustCompile(`(?i)\b(tôi|bạn)\b`)
)

// DetectPronounStyle inspects a user message for a clear Vietnamese address
// register. Returns "" when the message is ambiguous.
func DetectPronounStyle(message string) string {
	em := emThayPattern.MatchString(message)
	toi := toiBanPattern.MatchString(message)
	switch {
	case em && !toi:
		return "em-thầy"
	case toi && !em:
		return "tôi-bạn"
	default:
		return ""
	}
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return strings.TrimSpace(s[:i+1])
		}
	}
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
