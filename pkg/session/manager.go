package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nara/internal/observability"
	"github.com/harun/nara/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultIdleTimeout is how long a session may sit idle before the next
// contact starts a fresh one.
const DefaultIdleTimeout = 30 * time.Minute

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation with one sender on one channel.
type Session struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	Sender     string    `json:"sender"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Manager owns all live sessions. All methods are safe for concurrent use.
type Manager struct {
	idleTimeout time.Duration
	dailyLog    *DailyLog
	logger      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // by session id
	bySender map[string]string   // channel:sender -> session id
}

// ManagerConfig holds session manager configuration.
type ManagerConfig struct {
	IdleTimeout time.Duration
	DailyLog    *DailyLog
	Logger      zerolog.Logger
}

// NewManager creates a session manager. A nil DailyLog disables close
// logging; IdleTimeout zero falls back to the default.
func NewManager(cfg ManagerConfig) *Manager {
	observability.EnsureRegistered()

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	return &Manager{
		idleTimeout: cfg.IdleTimeout,
		dailyLog:    cfg.DailyLog,
		logger:      cfg.Logger.With().Str("component", "session-manager").Logger(),
		sessions:    make(map[string]*Session),
		bySender:    make(map[string]string),
	}
}

func senderKey(channel, sender string) string {
	return channel + ":" + sender
}

// GetOrCreate returns the sender's current session, replacing it with a
// fresh one when the previous session idled out.
func (m *Manager) GetOrCreate(channel, sender string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := senderKey(channel, sender)
	if id, ok := m.bySender[key]; ok {
		if s, ok := m.sessions[id]; ok && !m.expired(s) {
			return s
		}
		m.removeLocked(id)
	}

	now := time.Now()
	s := &Session{
		ID:         uuid.New().String(),
		Channel:    channel,
		Sender:     sender,
		CreatedAt:  now,
		LastActive: now,
	}
	m.sessions[s.ID] = s
	m.bySender[key] = s.ID

	m.logger.Debug().
		Str("session_id", s.ID).
		Str("channel", channel).
		Str("sender", sender).
		Msg("Session created")
	observability.SetActiveSessions(len(m.sessions))
	return s
}

// Get returns an active session by id; expired or unknown ids return nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if m.expired(s) {
		m.removeLocked(id)
		observability.SetActiveSessions(len(m.sessions))
		return nil
	}
	return s
}

// Touch bumps a session's last-active time.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.LastActive = time.Now()
	}
}

// AddExchange records one query/response pair on a session and bumps its
// last-active time. Unknown ids are ignored.
func (m *Manager) AddExchange(id, query, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}

	now := time.Now()
	s.Messages = append(s.Messages,
		Message{Role: "user", Content: query, Timestamp: now},
		Message{Role: "assistant", Content: response, Timestamp: now},
	)
	s.LastActive = now
}

// History returns a copy of a session's messages, oldest first.
func (m *Manager) History(id string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Close writes the session's summary to the daily log and removes it. The
// session is removed even when the log write fails; the error reports the
// failed write.
func (m *Manager) Close(ctx context.Context, id, querySummary, responseSummary string, decisions []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"nara.session",
		"session.close",
		attribute.String("session_id", id),
	)
	defer span.End()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		m.removeLocked(id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(active)
	if !ok {
		return nil
	}

	if m.dailyLog != nil {
		if err := m.dailyLog.Append(s.LastActive, querySummary, responseSummary, decisions); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to log session: %w", err)
		}
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().
		Str("session_id", id).
		Int("messages", len(s.Messages)).
		Msg("Session closed")
	return nil
}

// CleanupExpired drops every expired session and reports how many went.
// Expired sessions are dropped silently; summaries only come from Close.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, s := range m.sessions {
		if m.expired(s) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.removeLocked(id)
	}

	if len(expired) > 0 {
		m.logger.Debug().Int("expired", len(expired)).Msg("Expired sessions removed")
		observability.SetActiveSessions(len(m.sessions))
	}
	return len(expired)
}

// ActiveSessions lists ids of all non-expired sessions.
func (m *Manager) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if !m.expired(s) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) expired(s *Session) bool {
	return time.Since(s.LastActive) > m.idleTimeout
}

// removeLocked deletes a session and its sender mapping. Caller holds mu.
func (m *Manager) removeLocked(id string) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)

	key := senderKey(s.Channel, s.Sender)
	if m.bySender[key] == id {
		delete(m.bySender, key)
	}
}
