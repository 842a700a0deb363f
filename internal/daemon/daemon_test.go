package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/pkg/channels"
	"github.com/harun/nara/pkg/memory"
)

// fixedEmbedder produces deterministic vectors so tests never touch the
// embeddings API.
type fixedEmbedder struct {
	dimension int
}

func (e fixedEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		hash := 0
		for _, c := range text {
			hash = hash*31 + int(c)
		}
		vec := make([]float32, e.dimension)
		for j := range vec {
			vec[j] = float32((hash+j)%100) / 100.0
		}
		out[i] = vec
	}
	return out, nil
}

func stubEmbeddings(t *testing.T) {
	t.Helper()

	orig := newEmbeddingLoader
	newEmbeddingLoader = func(cfg *config.Config) memory.LoaderFunc {
		dimension := cfg.Memory.Embedding.Dimension
		return func() (memory.Embedder, error) {
			return fixedEmbedder{dimension: dimension}, nil
		}
	}
	t.Cleanup(func() { newEmbeddingLoader = orig })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "data")
	cfg.Memory.Dir = filepath.Join(tmpDir, "memory")
	cfg.Memory.DBPath = filepath.Join(cfg.DataDir, "memory.db")
	cfg.Memory.Watch = false
	cfg.Memory.Embedding.Dimension = 8
	cfg.Skills.Dir = filepath.Join(tmpDir, "skills")
	cfg.Skills.Watch = false
	cfg.Agent.Command = []string{"cat"}
	cfg.Channels.Terminal.Enabled = false
	cfg.Heartbeat.Enabled = false
	cfg.Gateway.Enabled = false
	cfg.Gateway.Port = 0
	cfg.Logging.File = ""

	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Memory.Dir, 0o755))

	return cfg
}

func TestNew(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := New(nil, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("initializes components", func(t *testing.T) {
		stubEmbeddings(t)
		cfg := testConfig(t)

		d, err := New(cfg, zerolog.Nop())
		require.NoError(t, err)
		defer d.memory.Close()

		assert.NotNil(t, d.memory)
		assert.NotNil(t, d.skillsLoader)
		assert.NotNil(t, d.agent)
		assert.NotNil(t, d.sessions)
		assert.NotNil(t, d.janitor)
		assert.NotNil(t, d.registry)
		assert.NotNil(t, d.notifier)
		assert.Nil(t, d.scheduler, "heartbeat disabled")
		assert.Nil(t, d.gateway, "gateway disabled")
	})

	t.Run("heartbeat and gateway from config", func(t *testing.T) {
		stubEmbeddings(t)
		cfg := testConfig(t)
		cfg.Heartbeat.Enabled = true
		cfg.Gateway.Enabled = true

		d, err := New(cfg, zerolog.Nop())
		require.NoError(t, err)
		defer d.memory.Close()

		assert.NotNil(t, d.scheduler)
		assert.NotNil(t, d.gateway)
	})
}

func TestDispatch(t *testing.T) {
	stubEmbeddings(t)
	cfg := testConfig(t)

	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Memory.Dir, "notes.md"),
		[]byte("# Notes\n\nThe database of record is PostgreSQL.\n"),
		0o644,
	))

	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer d.memory.Close()

	ctx := context.Background()
	_, err = d.memory.Sync(ctx)
	require.NoError(t, err)

	reply, err := d.dispatch(ctx, channels.InboundMessage{
		Channel: "terminal",
		Sender:  "user",
		Content: "which database do we use?",
	})
	require.NoError(t, err)
	// cat echoes the prompt document, so the reply carries both the query
	// and the retrieved memory context.
	assert.Contains(t, reply, "which database do we use?")
	assert.Contains(t, reply, "PostgreSQL")

	active := d.sessions.ActiveSessions()
	require.Len(t, active, 1)

	history := d.sessions.History(active[0])
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "which database do we use?", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)

	// A second message from the same sender lands in the same session.
	_, err = d.dispatch(ctx, channels.InboundMessage{
		Channel: "terminal",
		Sender:  "user",
		Content: "thanks",
	})
	require.NoError(t, err)
	assert.Len(t, d.sessions.ActiveSessions(), 1)
	assert.Len(t, d.sessions.History(active[0]), 4)
}

func TestDispatchWithoutCompleter(t *testing.T) {
	stubEmbeddings(t)
	cfg := testConfig(t)
	cfg.Agent.Command = nil

	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer d.memory.Close()

	_, err = d.dispatch(context.Background(), channels.InboundMessage{
		Channel: "terminal",
		Sender:  "user",
		Content: "anyone home?",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCompleter)
}

func TestDaemonRunAndShutdown(t *testing.T) {
	stubEmbeddings(t)
	cfg := testConfig(t)
	cfg.Gateway.Enabled = true

	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.GatewayAddr() != "" },
		5*time.Second, 20*time.Millisecond, "gateway should come up")

	// The gateway answers a status request end to end.
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+d.GatewayAddr()+"/ws", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": "1", "method": "status"}))

	var resp struct {
		ID     string                 `json:"id"`
		Result map[string]interface{} `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, true, resp.Result["running"])
	require.NoError(t, conn.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestDaemonStartTwice(t *testing.T) {
	stubEmbeddings(t)
	cfg := testConfig(t)

	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	assert.Error(t, d.Start(ctx))

	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop())
}

func TestStatusSnapshot(t *testing.T) {
	stubEmbeddings(t)
	cfg := testConfig(t)

	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer d.memory.Close()

	raw, err := d.statusSnapshot(context.Background())
	require.NoError(t, err)

	snapshot, ok := raw.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, snapshot["running"])
	assert.Contains(t, snapshot, "memory")
	assert.Contains(t, snapshot, "sessions")
	assert.Contains(t, snapshot, "channels")
}

func TestSyncNow(t *testing.T) {
	stubEmbeddings(t)
	cfg := testConfig(t)

	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Memory.Dir, "one.md"),
		[]byte("# One\n\nhello\n"),
		0o644,
	))

	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer d.memory.Close()

	raw, err := d.syncNow(context.Background())
	require.NoError(t, err)

	stats, ok := raw.(memory.SyncStats)
	require.True(t, ok)
	assert.Equal(t, 1, stats.Added)
}
