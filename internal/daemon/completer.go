package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/pkg/agent"
)

// DefaultCommandTimeout bounds one completion command run.
const DefaultCommandTimeout = 2 * time.Minute

// ErrNoCompleter reports that no completion backend is configured.
var ErrNoCompleter = errors.New("no agent command configured: set agent.command to the model CLI to run")

// NewCompleter builds the agent's completion backend from configuration.
// Returns ErrNoCompleter when agent.command is empty.
func NewCompleter(cfg *config.Config, log zerolog.Logger) (agent.Completer, error) {
	if len(cfg.Agent.Command) == 0 {
		return nil, ErrNoCompleter
	}

	return NewCommandCompleter(CommandCompleterConfig{
		Command: cfg.Agent.Command,
		Timeout: time.Duration(cfg.Agent.CommandTimeoutSeconds) * time.Second,
		Logger:  log,
	})
}

// CommandCompleterConfig configures a CommandCompleter.
type CommandCompleterConfig struct {
	Command []string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// CommandCompleter completes prompts by running a configured external
// command, for example ["claude", "-p"]. The assembled prompt document goes
// to the command's stdin; whatever it prints on stdout is the reply.
type CommandCompleter struct {
	command []string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCommandCompleter creates a command-backed completer.
func NewCommandCompleter(cfg CommandCompleterConfig) (*CommandCompleter, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandTimeout
	}

	return &CommandCompleter{
		command: append([]string(nil), cfg.Command...),
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "completer").Logger(),
	}, nil
}

// Complete implements agent.Completer.
func (c *CommandCompleter) Complete(ctx context.Context, req agent.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Stdin = strings.NewReader(buildPromptDocument(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("completion command timed out after %s", c.timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("completion command failed: %s: %w", firstLine(msg), err)
		}
		return "", fmt.Errorf("completion command failed: %w", err)
	}

	reply := strings.TrimSpace(stdout.String())
	if reply == "" {
		return "", errors.New("completion command produced no output")
	}

	c.logger.Debug().
		Dur("duration", time.Since(start)).
		Int("bytes", len(reply)).
		Msg("completion command finished")

	return reply, nil
}

// buildPromptDocument flattens a completion request into one text document.
// Single-turn requests pass the query through untouched.
func buildPromptDocument(req agent.CompletionRequest) string {
	var b strings.Builder

	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}

	if len(req.History) == 0 {
		b.WriteString(req.Query)
		return b.String()
	}

	b.WriteString("Conversation so far:\n")
	for _, m := range req.History {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nUser: ")
	b.WriteString(req.Query)

	return b.String()
}

func roleLabel(role string) string {
	if strings.EqualFold(role, "assistant") {
		return "Assistant"
	}
	return "User"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// unavailableCompleter fails every call. Used when no agent command is
// configured so the daemon still serves memory and gateway traffic.
type unavailableCompleter struct{}

func (unavailableCompleter) Complete(context.Context, agent.CompletionRequest) (string, error) {
	return "", ErrNoCompleter
}
