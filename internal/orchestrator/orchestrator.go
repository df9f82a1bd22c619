package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/seatutor/mariner-backend/internal/agent"
	"github.com/seatutor/mariner-backend/internal/agent/tool"
	chatrepo "github.com/seatutor/mariner-backend/internal/data/repos/chat"
	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/guardian"
	"github.com/seatutor/mariner-backend/internal/jobs/background"
	"github.com/seatutor/mariner-backend/internal/memory"
	"github.com/seatutor/mariner-backend/internal/persona"
	"github.com/seatutor/mariner-backend/internal/pkg/dbctx"
	"github.com/seatutor/mariner-backend/internal/platform/apierr"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/platform/openai"
	"github.com/seatutor/mariner-backend/internal/rag/embed"
	"github.com/seatutor/mariner-backend/internal/session"
)

const tracerName = "mariner-backend/orchestrator"

// Emitter receives streaming progress events. Nil on the non-streaming path.
type Emitter interface {
	Event(name string, payload map[string]any)
}

type Config struct {
	RequestDeadline   time.Duration
	ContextWindowSize int
	UseUnifiedAgent   bool
}

// Orchestrator runs the six-stage request pipeline: session, validate,
// context, agent, output, background.
type Orchestrator struct {
	log       *logger.Logger
	cfg       Config
	sessions  chatrepo.SessionRepo
	messages  chatrepo.MessageRepo
	state     *session.Store
	guard     guardian.Guardian
	personas  *persona.Loader
	mem       *memory.Service
	embedder  embed.Embedder
	react     agent.Agent
	graph     agent.Agent
	llm       openai.Client
	scheduler *background.Scheduler
	tracer    trace.Tracer
}

func New(log *logger.Logger, cfg Config, sessions chatrepo.SessionRepo, messages chatrepo.MessageRepo,
	state *session.Store, guard guardian.Guardian, personas *persona.Loader, mem *memory.Service,
	embedder embed.Embedder, react, graph agent.Agent, llm openai.Client,
	scheduler *background.Scheduler) (*Orchestrator, error) {
	if log == nil || sessions == nil || messages == nil || state == nil || guard == nil ||
		personas == nil || mem == nil || embedder == nil || react == nil || graph == nil ||
		llm == nil || scheduler == nil {
		return nil, fmt.Errorf("orchestrator: missing deps")
	}
	if cfg.RequestDeadline <= 0 {
		cfg.RequestDeadline = 90 * time.Second
	}
	if cfg.ContextWindowSize <= 0 {
		cfg.ContextWindowSize = 50
	}
	return &Orchestrator{
		log:       log.With("service", "Orchestrator"),
		cfg:       cfg,
		sessions:  sessions,
		messages:  messages,
		state:     state,
		guard:     guard,
		personas:  personas,
		mem:       mem,
		embedder:  embedder,
		react:     react,
		graph:     graph,
		llm:       llm,
		scheduler: scheduler,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Process serves one chat request end to end. Stages 1-5 are sequential;
// stage 6 is scheduled, never awaited.
func (o *Orchestrator) Process(ctx context.Context, req types.ChatRequest, emit Emitter) (*types.ChatResponse, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestDeadline)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "chat.process")
	defer span.End()

	// stage 1: session
	sess, st, err := o.stageSession(ctx, &req)
	if err != nil {
		return nil, err
	}

	// stage 2: validate
	verdict, blocked := o.stageValidate(ctx, &req, sess.ID)

	var agentRes agent.Response
	agentName := "guardian"
	if blocked {
		agentRes.Answer = guardian.BlockedResponse(st.PronounStyle)
		agentRes.Warning = verdict.Reason
	} else {
		// stage 3: context
		prompt, history := o.stageContext(ctx, req, sess.ID, st)

		// stage 4: agent
		agentRes, agentName, err = o.stageAgent(ctx, req, sess.ID, st, prompt, history, emit)
		if err != nil {
			o.scheduleTurnPersist(req, sess.ID, "", verdict, false)
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, apierr.DeadlineExceeded(err)
			}
			return nil, err
		}
	}

	// stage 5: output
	resp := o.stageOutput(ctx, req, agentRes, agentName, verdict, blocked, started)

	// stage 6: background
	o.stageBackground(req, sess.ID, resp, verdict, blocked)
	o.state.RecordTurn(sess.ID, resp.Answer, agentName, resp.Metadata.TopicsAccessed)

	return resp, nil
}

// stageSession resolves or creates the session row and loads local state.
func (o *Orchestrator) stageSession(ctx context.Context, req *types.ChatRequest) (*types.Session, session.State, error) {
	ctx, span := o.tracer.Start(ctx, "chat.session")
	defer span.End()

	dbc := dbctx.New(ctx)
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return nil, session.State{}, apierr.Validation("invalid session_id")
		}
		sess, err := o.sessions.GetByID(dbc, id)
		if err != nil {
			return nil, session.State{}, err
		}
		if sess != nil {
			if sess.UserID != req.UserID {
				return nil, session.State{}, apierr.Forbidden(fmt.Errorf("session belongs to another user"))
			}
			return sess, o.state.Get(sess.ID, req.UserID), nil
		}
	}

	sess := &types.Session{ID: uuid.New(), UserID: req.UserID}
	if err := o.sessions.Create(dbc, sess); err != nil {
		return nil, session.State{}, err
	}
	req.SessionID = sess.ID.String()
	return sess, o.state.Get(sess.ID, req.UserID), nil
}

// stageValidate normalizes the role, runs the guardian and folds pronoun
// hints into session state.
func (o *Orchestrator) stageValidate(ctx context.Context, req *types.ChatRequest, sessionID uuid.UUID) (guardian.Result, bool) {
	ctx, span := o.tracer.Start(ctx, "chat.validate")
	defer span.End()

	if !types.ValidRole(req.Role) {
		req.Role = types.RoleStudent
	}

	verdict := o.guard.Check(ctx, req.Message, req.UserID)
	if style := session.DetectPronounStyle(req.Message); style != "" {
		o.state.SetPronounStyle(sessionID, style)
	} else if verdict.PronounStyle != "" {
		o.state.SetPronounStyle(sessionID, verdict.PronounStyle)
	}
	return verdict, verdict.Decision == guardian.DecisionBlock
}

// stageContext assembles the system prompt and conversation window.
func (o *Orchestrator) stageContext(ctx context.Context, req types.ChatRequest, sessionID uuid.UUID,
	st session.State) (string, []openai.Message) {
	ctx, span := o.tracer.Start(ctx, "chat.context")
	defer span.End()

	dbc := dbctx.New(ctx)
	var qEmb []float32
	if emb, err := o.embedder.EmbedQuery(ctx, req.Message); err == nil {
		qEmb = emb
	}

	snippetParts := make([]string, 0, 4)
	userName := ""
	if facts, err := o.mem.GetFacts(ctx, req.UserID); err == nil {
		for _, f := range facts {
			if f.FactType == types.FactTypeName {
				userName = f.Value
			}
			snippetParts = append(snippetParts, fmt.Sprintf("%s: %s", f.FactType, f.Value))
		}
	}
	if insights, err := o.mem.GetInsights(ctx, req.UserID, qEmb, 5); err == nil {
		for _, ins := range insights {
			snippetParts = append(snippetParts, fmt.Sprintf("observation (%s): %s", ins.Category, ins.Content))
		}
	}
	if summary, err := o.mem.GetSummary(ctx, req.UserID, sessionID); err == nil && summary != nil {
		snippetParts = append(snippetParts, "earlier in this session: "+summary.Content)
	}
	if uc := req.UserContext; uc != nil {
		if uc.DisplayName != "" && userName == "" {
			userName = uc.DisplayName
		}
		if uc.ModuleID != "" {
			snippetParts = append(snippetParts,
				fmt.Sprintf("currently on course module %s (%.0f%% complete)", uc.ModuleID, uc.Progress*100))
		}
	}

	prompt := o.personas.BuildPrompt(req.Role, persona.PromptInput{
		UserName:      userName,
		PronounStyle:  st.PronounStyle,
		MemorySnippet: strings.Join(snippetParts, "\n"),
		ToolGuide: "Use search_regulations for any regulation question. Use get_student_memory before " +
			"answering questions about the student. Store new personal statements with remember_fact.",
		AvoidOpeners: st.RecentOpeners,
	})

	var history []openai.Message
	if rows, err := o.messages.ListForContext(dbc, sessionID, o.cfg.ContextWindowSize); err == nil {
		for _, m := range rows {
			history = append(history, openai.Message{Role: m.Role, Content: m.Content})
		}
	}
	return prompt, history
}

// stageAgent dispatches to the configured agent path under the request deadline.
func (o *Orchestrator) stageAgent(ctx context.Context, req types.ChatRequest, sessionID uuid.UUID,
	st session.State, prompt string, history []openai.Message, emit Emitter) (agent.Response, string, error) {
	ctx, span := o.tracer.Start(ctx, "chat.agent")
	defer span.End()

	a := o.react
	if !o.cfg.UseUnifiedAgent {
		a = o.graph
	}

	if emit != nil {
		emit.Event("thinking_start", map[string]any{})
	}
	thinkStart := time.Now()
	res, err := a.Run(ctx, agent.Request{
		SystemPrompt: prompt,
		Message:      req.Message,
		History:      history,
		Call: tool.CallContext{
			UserID:       req.UserID,
			SessionID:    sessionID.String(),
			Role:         req.Role,
			PronounStyle: st.PronounStyle,
		},
	})
	if emit != nil {
		for _, step := range res.ReasoningTrace {
			emit.Event("thinking", map[string]any{"content": step})
		}
		emit.Event("thinking_end", map[string]any{"duration_ms": time.Since(thinkStart).Milliseconds()})
	}
	return res, a.Name(), err
}

// stageBackground schedules persistence and derived-state work. Tasks are
// independent and idempotent; nothing here blocks the response.
func (o *Orchestrator) stageBackground(req types.ChatRequest, sessionID uuid.UUID,
	resp *types.ChatResponse, verdict guardian.Result, blocked bool) {
	o.scheduleTurnPersist(req, sessionID, resp.Answer, verdict, blocked)
	if blocked {
		return
	}
	userMessage, answer := req.Message, resp.Answer
	userID := req.UserID
	o.scheduler.Schedule(background.Task{
		Name: "extract_memory",
		Run: func(ctx context.Context) error {
			return o.mem.ExtractFromTurn(ctx, userID, userMessage, answer)
		},
	})
	o.scheduler.Schedule(background.Task{
		Name: "summarize_session",
		Run: func(ctx context.Context) error {
			return o.mem.MaybeSummarize(ctx, userID, sessionID)
		},
	})
}

// scheduleTurnPersist writes the user/assistant pair with pre-generated ids
// so a rescheduled task cannot duplicate the turn.
func (o *Orchestrator) scheduleTurnPersist(req types.ChatRequest, sessionID uuid.UUID,
	answer string, verdict guardian.Result, blocked bool) {
	rows := []*types.ChatMessage{{
		ID:          uuid.New(),
		SessionID:   sessionID,
		UserID:      req.UserID,
		Role:        types.RoleUser,
		Content:     req.Message,
		IsBlocked:   blocked,
		BlockReason: blockReason(verdict, blocked),
	}}
	if answer != "" && !blocked {
		rows = append(rows, &types.ChatMessage{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    req.UserID,
			Role:      types.RoleAssistant,
			Content:   answer,
		})
	}
	o.scheduler.Schedule(background.Task{
		Name: "persist_messages",
		Run: func(ctx context.Context) error {
			return o.messages.Create(dbctx.New(ctx), rows)
		},
	})
}

func blockReason(verdict guardian.Result, blocked bool) string {
	if !blocked {
		return ""
	}
	if verdict.Reason != "" {
		return verdict.Reason
	}
	return "safety policy"
}
