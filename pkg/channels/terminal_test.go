package channels

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a bytes.Buffer against the background read loop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTerminalChannel_DispatchesLines(t *testing.T) {
	out := &syncBuffer{}
	term := NewTerminalChannel(TerminalConfig{
		In:     strings.NewReader("hello\n   \nworld\n"),
		Out:    out,
		Logger: zerolog.Nop(),
	})

	var mu sync.Mutex
	var seen []InboundMessage
	dispatch := func(_ context.Context, msg InboundMessage) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
		return "echo " + msg.Content, nil
	}

	require.NoError(t, term.Start(context.Background(), dispatch))
	defer term.Stop(context.Background())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "terminal", seen[0].Channel)
	assert.Equal(t, "user", seen[0].Sender)
	assert.Equal(t, "hello", seen[0].Content)
	assert.Equal(t, "world", seen[1].Content)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "nara> echo hello")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminalChannel_PrintsDispatchError(t *testing.T) {
	out := &syncBuffer{}
	term := NewTerminalChannel(TerminalConfig{
		In:     strings.NewReader("boom\n"),
		Out:    out,
		Logger: zerolog.Nop(),
	})

	dispatch := func(_ context.Context, _ InboundMessage) (string, error) {
		return "", fmt.Errorf("model unavailable")
	}

	require.NoError(t, term.Start(context.Background(), dispatch))
	defer term.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "nara> error: model unavailable")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminalChannel_Send(t *testing.T) {
	out := &syncBuffer{}
	term := NewTerminalChannel(TerminalConfig{
		In:     strings.NewReader(""),
		Out:    out,
		Logger: zerolog.Nop(),
	})

	require.NoError(t, term.Send("anyone", "reminder: standup at 10"))
	assert.Contains(t, out.String(), "reminder: standup at 10")
}

func TestTerminalChannel_RequiresDispatch(t *testing.T) {
	term := NewTerminalChannel(TerminalConfig{
		In:     strings.NewReader(""),
		Out:    &syncBuffer{},
		Logger: zerolog.Nop(),
	})

	err := term.Start(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch function is required")
}

func TestTerminalChannel_DoubleStartFails(t *testing.T) {
	term := NewTerminalChannel(TerminalConfig{
		In:     strings.NewReader(""),
		Out:    &syncBuffer{},
		Logger: zerolog.Nop(),
	})

	dispatch := func(_ context.Context, msg InboundMessage) (string, error) {
		return msg.Content, nil
	}

	require.NoError(t, term.Start(context.Background(), dispatch))
	defer term.Stop(context.Background())

	err := term.Start(context.Background(), dispatch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestTerminalChannel_StopIsIdempotent(t *testing.T) {
	term := NewTerminalChannel(TerminalConfig{
		In:     strings.NewReader(""),
		Out:    &syncBuffer{},
		Logger: zerolog.Nop(),
	})

	dispatch := func(_ context.Context, msg InboundMessage) (string, error) {
		return msg.Content, nil
	}

	require.NoError(t, term.Start(context.Background(), dispatch))
	require.NoError(t, term.Stop(context.Background()))
	require.NoError(t, term.Stop(context.Background()))
}
