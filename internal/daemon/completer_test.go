package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/pkg/agent"
)

func TestNewCommandCompleter(t *testing.T) {
	t.Run("requires command", func(t *testing.T) {
		_, err := NewCommandCompleter(CommandCompleterConfig{})
		assert.Error(t, err)
	})

	t.Run("defaults timeout", func(t *testing.T) {
		c, err := NewCommandCompleter(CommandCompleterConfig{Command: []string{"cat"}})
		require.NoError(t, err)
		assert.Equal(t, DefaultCommandTimeout, c.timeout)
	})
}

func TestNewCompleter(t *testing.T) {
	t.Run("no command configured", func(t *testing.T) {
		cfg := config.DefaultConfig()
		_, err := NewCompleter(cfg, zerolog.Nop())
		assert.ErrorIs(t, err, ErrNoCompleter)
	})

	t.Run("command configured", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Agent.Command = []string{"cat"}

		c, err := NewCompleter(cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.NotNil(t, c)
	})
}

func TestCommandCompleterComplete(t *testing.T) {
	t.Run("reply is the command output", func(t *testing.T) {
		c, err := NewCommandCompleter(CommandCompleterConfig{Command: []string{"cat"}})
		require.NoError(t, err)

		reply, err := c.Complete(context.Background(), agent.CompletionRequest{
			SystemPrompt: "You are a test fixture.",
			Query:        "what is in memory?",
		})
		require.NoError(t, err)
		assert.Contains(t, reply, "You are a test fixture.")
		assert.Contains(t, reply, "what is in memory?")
	})

	t.Run("failure surfaces stderr", func(t *testing.T) {
		c, err := NewCommandCompleter(CommandCompleterConfig{
			Command: []string{"sh", "-c", "echo model exploded >&2; exit 3"},
		})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), agent.CompletionRequest{Query: "q"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model exploded")
	})

	t.Run("timeout kills the command", func(t *testing.T) {
		c, err := NewCommandCompleter(CommandCompleterConfig{
			Command: []string{"sleep", "10"},
			Timeout: 100 * time.Millisecond,
		})
		require.NoError(t, err)

		start := time.Now()
		_, err = c.Complete(context.Background(), agent.CompletionRequest{Query: "q"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("empty output is an error", func(t *testing.T) {
		c, err := NewCommandCompleter(CommandCompleterConfig{Command: []string{"true"}})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), agent.CompletionRequest{Query: "q"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no output")
	})
}

func TestBuildPromptDocument(t *testing.T) {
	t.Run("bare query passes through", func(t *testing.T) {
		doc := buildPromptDocument(agent.CompletionRequest{Query: "just this"})
		assert.Equal(t, "just this", doc)
	})

	t.Run("system prompt comes first", func(t *testing.T) {
		doc := buildPromptDocument(agent.CompletionRequest{
			SystemPrompt: "identity block",
			Query:        "question",
		})
		assert.Equal(t, "identity block\n\nquestion", doc)
	})

	t.Run("history turns are labeled", func(t *testing.T) {
		doc := buildPromptDocument(agent.CompletionRequest{
			History: []agent.Message{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
			},
			Query: "and now?",
		})
		assert.Contains(t, doc, "User: hi\n")
		assert.Contains(t, doc, "Assistant: hello\n")
		assert.Contains(t, doc, "User: and now?")
	})
}

func TestUnavailableCompleter(t *testing.T) {
	_, err := unavailableCompleter{}.Complete(context.Background(), agent.CompletionRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrNoCompleter)
}
