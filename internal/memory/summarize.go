package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
)

// rough chars-per-token estimate; good enough for a threshold check
const charsPerToken = 4

// MaybeSummarize compacts a session's unsummarized tail into a Summary row
// once it exceeds the token threshold. Blocked turns are counted toward the
// span but excluded from the summary text. No-op below threshold.
func (s *Service) MaybeSummarize(ctx context.Context, userID string, sessionID uuid.UUID) error {
	if userID == "" || sessionID == uuid.Nil {
		return nil
	}
	dbc := dbctx.New(ctx)
	rows, err := s.messages.ListUnsummarized(dbc, sessionID)
	if err != nil {
		return fmt.Errorf("memory: list unsummarized: %w", err)
	}
	if len(rows) < 4 || estimateTokens(rows) < s.cfg.SummarizationTokenThreshold {
		return nil
	}

	var sb strings.Builder
	for _, m := range rows {
		if m.IsBlocked {
			continue
		}
		speaker := "Student"
		if m.Role == types.RoleAssistant {
			speaker = "Tutor"
		}
		sb.WriteString(speaker + ": " + m.Content + "\n")
	}

	prev, err := s.summaries.Latest(dbc, userID, sessionID)
	if err == nil && prev != nil {
		sb.WriteString("\nEarlier summary of this session:\n" + prev.Content + "\n")
	}

	text, err := s.llm.GenerateText(ctx,
		"You summarize a tutoring session between a maritime student and an AI tutor. Keep topics covered, questions the student struggled with, and any commitments made. Write 5-8 sentences.",
		sb.String())
	if err != nil {
		return fmt.Errorf("memory: summarize: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var embedding types.Vector
	if vecs, embErr := s.embedder.EmbedDocuments(ctx, []string{text}); embErr == nil && len(vecs) == 1 {
		embedding = vecs[0]
	}

	row := &types.Summary{
		ID:          uuid.New(),
		UserID:      userID,
		SessionID:   sessionID,
		Content:     text,
		Embedding:   embedding,
		CoversRange: rows[0].ID.String() + ".." + rows[len(rows)-1].ID.String(),
	}
	if err := s.summaries.Create(dbc, row); err != nil {
		return fmt.Errorf("memory: store summary: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.ID)
	}
	if err := s.messages.MarkSummarized(dbc, ids); err != nil {
		// next pass re-summarizes the same span; the summary row is already safe
		s.log.Warn("mark summarized failed", "session_id", sessionID.String(), "error", err.Error())
	}
	s.log.Info("session summarized", "session_id", sessionID.String(), "messages", len(rows))
	return nil
}

func estimateTokens(rows []*types.ChatMessage) int {
	chars := 0
	for _, m := range rows {
		chars += len(m.Content)
	}
	return chars / charsPerToken
}
