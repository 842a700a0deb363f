package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/nara/internal/observability"
	"github.com/harun/nara/internal/tracing"
	"github.com/harun/nara/pkg/skills"
)

// Message is one turn of conversation history passed to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one opaque model call.
type CompletionRequest struct {
	SystemPrompt string
	History      []Message
	Query        string
}

// Completer is the opaque model invocation the agent delegates to.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// MemoryReader is the slice of the memory manager the agent reads from.
type MemoryReader interface {
	GetContext(ctx context.Context, query string, topK int) (string, error)
	GetFileContent(name string) (string, error)
}

// Config configures an Agent.
type Config struct {
	Memory    MemoryReader
	Completer Completer
	Skills    []skills.Skill
	Logger    zerolog.Logger
}

// Agent answers queries with memory-augmented prompts.
type Agent struct {
	memory    MemoryReader
	completer Completer
	logger    zerolog.Logger

	mu     sync.RWMutex
	skills []skills.Skill
}

// New creates an agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory reader is required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}

	observability.EnsureRegistered()

	return &Agent{
		memory:    cfg.Memory,
		completer: cfg.Completer,
		logger:    cfg.Logger.With().Str("component", "agent").Logger(),
		skills:    cfg.Skills,
	}, nil
}

// SetSkills replaces the skill set used for prompt assembly. Wired to the
// skills watcher so edits take effect without a restart.
func (a *Agent) SetSkills(skillSet []skills.Skill) {
	a.mu.Lock()
	a.skills = skillSet
	a.mu.Unlock()

	a.logger.Debug().Int("count", len(skillSet)).Msg("skill set updated")
}

// Skills returns the current skill set.
func (a *Agent) Skills() []skills.Skill {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]skills.Skill(nil), a.skills...)
}

// Chat processes one conversation turn: the system prompt is assembled
// around the query, the completer produces the reply.
func (a *Agent) Chat(ctx context.Context, history []Message, query string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "nara.agent", "agent.chat")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, a.logger)

	start := time.Now()

	systemPrompt, err := a.buildSystemPrompt(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordAgentRun(time.Since(start), false)
		return "", err
	}

	reply, err := a.completer.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		History:      history,
		Query:        query,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordAgentRun(time.Since(start), false)
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}

	observability.RecordAgentRun(time.Since(start), true)
	logger.Debug().
		Int("history", len(history)).
		Dur("duration", time.Since(start)).
		Msg("chat turn completed")

	return reply, nil
}

// Reason makes a single-turn call with a caller-supplied system context.
// Used by the heartbeat scheduler, which builds its own prompts.
func (a *Agent) Reason(ctx context.Context, systemContext, prompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "nara.agent", "agent.reason")
	defer span.End()

	start := time.Now()

	reply, err := a.completer.Complete(ctx, CompletionRequest{
		SystemPrompt: systemContext,
		Query:        prompt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordAgentRun(time.Since(start), false)
		return "", fmt.Errorf("failed to complete reasoning: %w", err)
	}

	observability.RecordAgentRun(time.Since(start), true)
	return reply, nil
}

func (a *Agent) currentSkills() []skills.Skill {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.skills
}
