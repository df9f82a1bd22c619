package guardian

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// Decision outcomes. FLAG annotates metadata but lets the request continue.
const (
	DecisionAllow = "ALLOW"
	DecisionBlock = "BLOCK"
	DecisionFlag  = "FLAG"
)

const cacheKeyPrefix = "guardian:decision:"

const defaultCacheTTL = time.Hour

type Result struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`

	// PronounStyle is set when the message clearly establishes how the
	// student addresses the tutor (Vietnamese registers differ sharply).
	PronounStyle string `json:"pronoun_style,omitempty"`
}

type JudgeLLM interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

type Guardian interface {
	Check(ctx context.Context, message, userID string) Result
}

type guardian struct {
	log   *logger.Logger
	llm   JudgeLLM
	redis *redis.Client // nil disables the decision cache
	ttl   time.Duration
}

func New(log *logger.Logger, llm JudgeLLM, rdb *redis.Client, cacheTTL time.Duration) (Guardian, error) {
	if log == nil || llm == nil {
		return nil, fmt.Errorf("guardian: missing deps")
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &guardian{log: log.With("service", "Guardian"), llm: llm, redis: rdb, ttl: cacheTTL}, nil
}

var greetings = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "ok", "okay", "bye", "goodbye",
	"chào", "xin chào", "chào thầy", "chào cô", "cảm ơn", "cám ơn", "tạm biệt",
}

// isGreeting matches short salutations so trivial turns skip the LLM.
func isGreeting(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	m = strings.Trim(m, "!.?,")
	if m == "" || len([]rune(m)) > 40 {
		return false
	}
	for _, g := range greetings {
		if m == g || strings.HasPrefix(m, g+" ") {
			return true
		}
	}
	return false
}

func (g *guardian) Check(ctx context.Context, message, userID string) Result {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{Decision: DecisionAllow}
	}
	if isGreeting(message) {
		return Result{Decision: DecisionAllow, Reason: "greeting"}
	}

	key := cacheKey(message)
	if cached, ok := g.cacheGet(ctx, key); ok {
		return cached
	}

	res, err := g.judge(ctx, message)
	if err != nil {
		g.log.Warn("guardian llm failed, using rule fallback", "error", err.Error())
		res = ruleCheck(message)
	}
	g.cacheSet(ctx, key, res)
	return res
}

func cacheKey(message string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(message))))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (g *guardian) cacheGet(ctx context.Context, key string) (Result, bool) {
	if g.redis == nil {
		return Result{}, false
	}
	raw, err := g.redis.Get(ctx, key).Bytes()
	if err != nil {
		return Result{}, false
	}
	var res Result
	if json.Unmarshal(raw, &res) != nil || res.Decision == "" {
		return Result{}, false
	}
	return res, true
}

func (g *guardian) cacheSet(ctx context.Context, key string, res Result) {
	if g.redis == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := g.redis.Set(ctx, key, raw, g.ttl).Err(); err != nil {
		g.log.Debug("guardian cache write failed", "error", err.Error())
	}
}

var judgeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decision": map[string]any{
			"type": "string",
			"enum": []string{DecisionAllow, DecisionBlock, DecisionFlag},
		},
		"reason":        map[string]any{"type": "string"},
		"pronoun_style": map[string]any{"type": "string"},
	},
	"required":             []string{"decision", "reason", "pronoun_style"},
	"additionalProperties": false,
}

const judgeSystem = `You are the safety gate for a maritime-education tutor. Students ask about
collisions, piracy, weapons aboard ships, groundings, fires and casualties: these are legitimate
course topics and must be ALLOWED. BLOCK only content that is abusive toward the tutor
(including disrespectful Vietnamese second-person pronouns like "mày"), sexual content, or
requests to cause real-world harm unrelated to maritime study. FLAG borderline messages that
should continue but be recorded. Also report "pronoun_style" when the student's Vietnamese
clearly establishes an address register (e.g. "em-thầy", "tôi-bạn"); otherwise return "".`

func (g *guardian) judge(ctx context.Context, message string) (Result, error) {
	res, err := g.llm.GenerateJSON(ctx, judgeSystem, message, "safety_decision", judgeSchema)
	if err != nil {
		return Result{}, err
	}
	decision, _ := res["decision"].(string)
	reason, _ := res["reason"].(string)
	pronoun, _ := res["pronoun_style"].(string)
	switch decision {
	case DecisionAllow, DecisionBlock, DecisionFlag:
	default:
		return Result{}, fmt.Errorf("guardian: unknown decision %q", decision)
	}
	return Result{Decision: decision, Reason: reason, PronounStyle: strings.TrimSpace(pronoun)}, nil
}

// Rule fallback when the LLM is unavailable. The blocklist is deliberately
// narrow: a wrongly blocked student is worse than a flagged one.
var (
	blockPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(mày|tao)\b`),
		regexp.MustCompile(`(?i)\b(fuck you|đồ ngu|con chó)\b`),
	}
	allowPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(colreg|solas|marpol|stcw|pirate|piracy|collision|grounding|salvage|mayday)\b`),
		regexp.MustCompile(`(?i)\b(cướp biển|va chạm|mắc cạn|cứu hộ)\b`),
	}
)

func ruleCheck(message string) Result {
	for _, p := range blockPatterns {
		if p.MatchString(message) {
			return Result{Decision: DecisionBlock, Reason: "rule: abusive language"}
		}
	}
	for _, p := range allowPatterns {
		if p.MatchString(message) {
			return Result{Decision: DecisionAllow, Reason: "rule: maritime topic"}
		}
	}
	// unknown territory without a judge: let it through but record it
	return Result{Decision: DecisionFlag, Reason: "rule fallback, no judgment available"}
}

// BlockedResponse is the canned answer returned for BLOCK decisions.
func BlockedResponse(pronounStyle string) string {
	if strings.Contains(pronounStyle, "em") {
		return "Thầy không thể trả lời nội dung này. Em hãy đặt câu hỏi liên quan đến bài học hàng hải nhé."
	}
	return "I can't respond to that. Please keep questions related to your maritime coursework."
}
