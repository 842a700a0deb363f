package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nara/pkg/skills"
)

type fakeMemory struct {
	files      map[string]string
	contexts   map[string]string
	fileErr    error
	contextErr error
}

func (m *fakeMemory) GetContext(_ context.Context, query string, _ int) (string, error) {
	if m.contextErr != nil {
		return "", m.contextErr
	}
	return m.contexts[query], nil
}

func (m *fakeMemory) GetFileContent(name string) (string, error) {
	if m.fileErr != nil {
		return "", m.fileErr
	}
	return m.files[name], nil
}

type fakeCompleter struct {
	mu       sync.Mutex
	requests []CompletionRequest
	response string
	err      error
}

func (c *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func (c *fakeCompleter) lastRequest() CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return CompletionRequest{}
	}
	return c.requests[len(c.requests)-1]
}

func availableSkill(name, description string) skills.Skill {
	return skills.Skill{Name: name, Description: description, Available: true}
}

func newTestAgent(t *testing.T, mem *fakeMemory, completer *fakeCompleter, skillSet []skills.Skill) *Agent {
	t.Helper()
	a, err := New(Config{
		Memory:    mem,
		Completer: completer,
		Skills:    skillSet,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Completer: &fakeCompleter{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory reader is required")

	_, err = New(Config{Memory: &fakeMemory{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completer is required")
}

func TestChat_AssemblesFullSystemPrompt(t *testing.T) {
	mem := &fakeMemory{
		files: map[string]string{
			SoulFile: "# Soul\nCalm and direct.",
			UserFile: "# User\nAlice, engineer.",
		},
		contexts: map[string]string{
			"rent": "## Relevant Memory\n\n**MEMORY.md** (lines 1-3):\nRent is due on the 1st.",
		},
	}
	completer := &fakeCompleter{response: "Rent is due on the 1st of each month."}
	a := newTestAgent(t, mem, completer, []skills.Skill{
		availableSkill("weather", "Check the weather"),
	})

	history := []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	reply, err := a.Chat(context.Background(), history, "rent")
	require.NoError(t, err)
	assert.Equal(t, "Rent is due on the 1st of each month.", reply)

	req := completer.lastRequest()
	assert.Equal(t, "rent", req.Query)
	assert.Equal(t, history, req.History)

	prompt := req.SystemPrompt
	assert.Contains(t, prompt, "# Soul")
	assert.Contains(t, prompt, "# User")
	assert.Contains(t, prompt, "## Relevant Memory")
	assert.Contains(t, prompt, "## Available Skills")
	assert.Contains(t, prompt, "**weather**")

	soulIdx := strings.Index(prompt, "# Soul")
	userIdx := strings.Index(prompt, "# User")
	memIdx := strings.Index(prompt, "## Relevant Memory")
	skillsIdx := strings.Index(prompt, "## Available Skills")
	assert.True(t, soulIdx < userIdx && userIdx < memIdx && memIdx < skillsIdx)
}

func TestChat_OmitsEmptySections(t *testing.T) {
	mem := &fakeMemory{
		files:    map[string]string{},
		contexts: map[string]string{},
	}
	completer := &fakeCompleter{response: "hello"}
	a := newTestAgent(t, mem, completer, nil)

	_, err := a.Chat(context.Background(), nil, "anything")
	require.NoError(t, err)

	assert.Equal(t, "", completer.lastRequest().SystemPrompt)
}

func TestChat_CompleterError(t *testing.T) {
	mem := &fakeMemory{files: map[string]string{}, contexts: map[string]string{}}
	completer := &fakeCompleter{err: fmt.Errorf("rate limited")}
	a := newTestAgent(t, mem, completer, nil)

	_, err := a.Chat(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to complete chat")
}

func TestChat_MemoryErrorSurfaces(t *testing.T) {
	mem := &fakeMemory{
		files:      map[string]string{},
		contextErr: fmt.Errorf("store closed"),
	}
	completer := &fakeCompleter{response: "unused"}
	a := newTestAgent(t, mem, completer, nil)

	_, err := a.Chat(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store closed")
}

func TestReason_UsesCallerContext(t *testing.T) {
	mem := &fakeMemory{files: map[string]string{}, contexts: map[string]string{}}
	completer := &fakeCompleter{response: "NO_NOTIFICATION"}
	a := newTestAgent(t, mem, completer, nil)

	reply, err := a.Reason(context.Background(), "heartbeat", "should the user know?")
	require.NoError(t, err)
	assert.Equal(t, "NO_NOTIFICATION", reply)

	req := completer.lastRequest()
	assert.Equal(t, "heartbeat", req.SystemPrompt)
	assert.Equal(t, "should the user know?", req.Query)
	assert.Empty(t, req.History)
}

func TestSetSkills_ReflectedInNextChat(t *testing.T) {
	mem := &fakeMemory{files: map[string]string{}, contexts: map[string]string{}}
	completer := &fakeCompleter{response: "ok"}
	a := newTestAgent(t, mem, completer, nil)

	_, err := a.Chat(context.Background(), nil, "first")
	require.NoError(t, err)
	assert.NotContains(t, completer.lastRequest().SystemPrompt, "Available Skills")

	a.SetSkills([]skills.Skill{availableSkill("notes", "Take notes")})

	_, err = a.Chat(context.Background(), nil, "second")
	require.NoError(t, err)
	assert.Contains(t, completer.lastRequest().SystemPrompt, "**notes**")
}

func TestIdentityContext(t *testing.T) {
	mem := &fakeMemory{
		files: map[string]string{
			SoulFile: "# Soul",
			UserFile: "# User",
		},
	}
	a := newTestAgent(t, mem, &fakeCompleter{}, nil)

	assert.Equal(t, "# Soul\n\n# User", a.IdentityContext(context.Background()))
}

func TestIdentityContext_PartialAndMissing(t *testing.T) {
	a := newTestAgent(t, &fakeMemory{files: map[string]string{SoulFile: "# Soul"}}, &fakeCompleter{}, nil)
	assert.Equal(t, "# Soul", a.IdentityContext(context.Background()))

	b := newTestAgent(t, &fakeMemory{files: map[string]string{}}, &fakeCompleter{}, nil)
	assert.Equal(t, "", b.IdentityContext(context.Background()))
}

func TestIdentityContext_LoadErrorDegrades(t *testing.T) {
	a := newTestAgent(t, &fakeMemory{fileErr: fmt.Errorf("disk gone")}, &fakeCompleter{}, nil)
	assert.Equal(t, "", a.IdentityContext(context.Background()))
}
