package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seatutor/mariner-backend/internal/pkg/httpx"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// Event types pushed to the LMS.
const (
	EventKnowledgeGap     = "knowledge_gap_detected"
	EventGoalEvolution    = "goal_evolution"
	EventModuleConfidence = "module_completed_confidence"
	EventStuckDetected    = "stuck_detected"
)

// Notifier delivers AI events to the LMS. Implementations must never block
// request handling on delivery.
type Notifier interface {
	Emit(ctx context.Context, eventType, userID string, payload map[string]any)
}

type client struct {
	log     *logger.Logger
	baseURL string
	secret  string
	http    *http.Client
}

// New returns a no-op notifier when baseURL is empty.
func New(log *logger.Logger, baseURL, secret string) Notifier {
	if strings.TrimSpace(baseURL) == "" {
		return noop{}
	}
	return &client{
		log:     log.With("client", "LMSCallback"),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type noop struct{}

func (noop) Emit(context.Context, string, string, map[string]any) {}

type eventBody struct {
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

func (c *client) Emit(ctx context.Context, eventType, userID string, payload map[string]any) {
	body, err := json.Marshal(eventBody{EventType: eventType, UserID: userID, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		return
	}

	// one retry on retryable failures
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := httpx.SleepCtx(ctx, httpx.JitterSleep(500*time.Millisecond)); err != nil {
				return
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ai-events", bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Callback-Secret", c.secret)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 300 {
			return
		}
		lastErr = fmt.Errorf("lms callback http %d", resp.StatusCode)
		if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			break
		}
	}
	c.log.Warn("lms event delivery failed", "event_type", eventType, "user_id", userID, "error", lastErr.Error())
}
