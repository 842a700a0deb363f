package heartbeat

import (
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

type mockEmailSource struct {
	mu     sync.Mutex
	emails []Email
	err    error
	since  []time.Time
}

func (s *mockEmailSource) FetchUnread(_ context.Context, since time.Time, _ int) ([]Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	if s.err != nil {
		return nil, s.err
	}
	return s.emails, nil
}

type mockCalendarSource struct {
	mu       sync.Mutex
	events   []Event
	err      error
	horizons []time.Duration
}

func (s *mockCalendarSource) FetchUpcoming(_ context.Context, horizon time.Duration, _ int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.horizons = append(s.horizons, horizon)
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

// capturingReason records prompts and plays back a scripted response.
type capturingReason struct {
	mu       sync.Mutex
	prompts  []string
	response string
	err      error
}

func (r *capturingReason) fn(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return r.response, r.err
}

func (r *capturingReason) lastPrompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return ""
	}
	return r.prompts[len(r.prompts)-1]
}

func (r *capturingReason) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prompts)
}

func newSchedulerForTest(t *testing.T, cfg Config, routeChannels ...*fakeChannel) *Scheduler {
	t.Helper()

	if cfg.Notifier == nil {
		notifier, err := NewNotifier(NotifierConfig{
			Routes: map[string]string{
				TypeUrgentEmail:      "whatsapp",
				TypeCalendarReminder: "whatsapp",
				TypeDailySummary:     "terminal",
			},
			DefaultChannel: "terminal",
			Registry:       newTestRegistry(t, routeChannels...),
			Logger:         zerolog.Nop(),
		})
		require.NoError(t, err)
		cfg.Notifier = notifier
	}
	cfg.Logger = zerolog.Nop()

	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	return s
}

func TestNewScheduler_Validation(t *testing.T) {
	reason := &capturingReason{}

	_, err := NewScheduler(Config{Reason: reason.fn})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifier is required")

	notifier, err := NewNotifier(NotifierConfig{
		DefaultChannel: "terminal",
		Registry:       newTestRegistry(t, &fakeChannel{name: "terminal"}),
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = NewScheduler(Config{Notifier: notifier})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason function is required")

	_, err = NewScheduler(Config{Notifier: notifier, Reason: reason.fn, DailySummaryAt: "25:00"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid daily summary time")
}

func TestParseDailyTime(t *testing.T) {
	tests := []struct {
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{input: "08:00", hour: 8, minute: 0},
		{input: "23:59", hour: 23, minute: 59},
		{input: "7", hour: 7, minute: 0},
		{input: "24:00", wantErr: true},
		{input: "08:60", wantErr: true},
		{input: "morning", wantErr: true},
	}

	for _, tt := range tests {
		hour, minute, err := parseDailyTime(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.hour, hour, tt.input)
		assert.Equal(t, tt.minute, minute, tt.input)
	}
}

func TestShouldNotify(t *testing.T) {
	assert.False(t, shouldNotify(""))
	assert.False(t, shouldNotify(NoNotification))
	assert.False(t, shouldNotify("After review: NO_NOTIFICATION"))
	assert.True(t, shouldNotify("Your landlord emailed about rent."))
}

func TestCheckEmail_Notifies(t *testing.T) {
	whatsapp := &fakeChannel{name: "whatsapp"}
	terminal := &fakeChannel{name: "terminal"}
	source := &mockEmailSource{emails: []Email{
		{Sender: "landlord@example.com", Subject: "Rent due", Snippet: "Reminder that rent is due Friday"},
	}}
	reason := &capturingReason{response: "Your landlord says rent is due Friday."}

	s := newSchedulerForTest(t, Config{
		Reason:      reason.fn,
		Context:     func(_ context.Context) string { return "# Identity\nAssistant for Alice" },
		EmailSource: source,
	}, whatsapp, terminal)

	notified, err := s.checkEmail(context.Background())
	require.NoError(t, err)
	assert.True(t, notified)

	prompt := reason.lastPrompt()
	assert.Contains(t, prompt, "# Identity")
	assert.Contains(t, prompt, "## New Emails")
	assert.Contains(t, prompt, "**Subject:** Rent due")
	assert.Contains(t, prompt, NoNotification)

	assert.Equal(t, []string{"user:Your landlord says rent is due Friday."}, whatsapp.sentMessages())
	assert.Empty(t, terminal.sentMessages())
}

func TestCheckEmail_SentinelSuppresses(t *testing.T) {
	whatsapp := &fakeChannel{name: "whatsapp"}
	source := &mockEmailSource{emails: []Email{{Sender: "a", Subject: "newsletter"}}}
	reason := &capturingReason{response: NoNotification}

	s := newSchedulerForTest(t, Config{
		Reason:      reason.fn,
		EmailSource: source,
	}, whatsapp, &fakeChannel{name: "terminal"})

	notified, err := s.checkEmail(context.Background())
	require.NoError(t, err)
	assert.False(t, notified)
	assert.Empty(t, whatsapp.sentMessages())
}

func TestCheckEmail_NoEmailsSkipsReasoning(t *testing.T) {
	source := &mockEmailSource{}
	reason := &capturingReason{response: "should never be used"}

	s := newSchedulerForTest(t, Config{
		Reason:      reason.fn,
		EmailSource: source,
	}, &fakeChannel{name: "whatsapp"}, &fakeChannel{name: "terminal"})

	notified, err := s.checkEmail(context.Background())
	require.NoError(t, err)
	assert.False(t, notified)
	assert.Equal(t, 0, reason.callCount())
}

func TestCheckEmail_TracksSinceTimestamp(t *testing.T) {
	source := &mockEmailSource{}
	reason := &capturingReason{}

	s := newSchedulerForTest(t, Config{
		Reason:      reason.fn,
		EmailSource: source,
	}, &fakeChannel{name: "whatsapp"}, &fakeChannel{name: "terminal"})

	_, err := s.checkEmail(context.Background())
	require.NoError(t, err)
	_, err = s.checkEmail(context.Background())
	require.NoError(t, err)

	require.Len(t, source.since, 2)
	assert.True(t, source.since[0].IsZero())
	assert.False(t, source.since[1].IsZero())
}

func TestCheckEmail_SourceError(t *testing.T) {
	source := &mockEmailSource{err: fmt.Errorf("token expired")}
	reason := &capturingReason{}

	s := newSchedulerForTest(t, Config{
		Reason:      reason.fn,
		EmailSource: source,
	}, &fakeChannel{name: "whatsapp"}, &fakeChannel{name: "terminal"})

	_, err := s.checkEmail(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch unread emails")
}

func TestCheckCalendar_Notifies(t *testing.T) {
	whatsapp := &fakeChannel{name: "whatsapp"}
	source := &mockCalendarSource{events: []Event{
		{Title: "Dentist", Start: "2026-08-25T15:00:00Z", End: "2026-08-25T16:00:00Z", Location: "Main St"},
	}}
	reason := &capturingReason{response: "Dentist at 15:00 today."}

	s := newSchedulerForTest(t, Config{
		Reason:          reason.fn,
		CalendarSource:  source,
		CalendarHorizon: 6 * time.Hour,
	}, whatsapp, &fakeChannel{name: "terminal"})

	notified, err := s.checkCalendar(context.Background())
	require.NoError(t, err)
	assert.True(t, notified)

	prompt := reason.lastPrompt()
	assert.Contains(t, prompt, "## Upcoming Events")
	assert.Contains(t, prompt, "**Dentist**")
	assert.Contains(t, prompt, "Location: Main St")

	require.Len(t, source.horizons, 1)
	assert.Equal(t, 6*time.Hour, source.horizons[0])
	assert.Equal(t, []string{"user:Dentist at 15:00 today."}, whatsapp.sentMessages())
}

func TestDailySummary_NotifiesDefaultRoute(t *testing.T) {
	terminal := &fakeChannel{name: "terminal"}
	emailSource := &mockEmailSource{emails: []Email{{Sender: "boss", Subject: "Q3 review"}}}
	calSource := &mockCalendarSource{events: []Event{{Title: "Standup", Start: "09:00", End: "09:15"}}}
	reason := &capturingReason{response: "Busy morning: standup at 9, unread mail from boss."}

	s := newSchedulerForTest(t, Config{
		Reason:         reason.fn,
		EmailSource:    emailSource,
		CalendarSource: calSource,
	}, &fakeChannel{name: "whatsapp"}, terminal)

	notified, err := s.dailySummary(context.Background())
	require.NoError(t, err)
	assert.True(t, notified)

	prompt := reason.lastPrompt()
	assert.Contains(t, prompt, "## Daily Summary Request")
	assert.Contains(t, prompt, "### Today's Calendar")
	assert.Contains(t, prompt, "### Unread Emails")
	assert.Contains(t, prompt, "Write a concise daily briefing")

	assert.Equal(t, []string{"user:Busy morning: standup at 9, unread mail from boss."}, terminal.sentMessages())
}

func TestDailySummary_SourceFailuresBecomePlaceholders(t *testing.T) {
	terminal := &fakeChannel{name: "terminal"}
	emailSource := &mockEmailSource{err: fmt.Errorf("offline")}
	calSource := &mockCalendarSource{err: fmt.Errorf("offline")}
	reason := &capturingReason{response: "Could not reach your accounts today."}

	s := newSchedulerForTest(t, Config{
		Reason:         reason.fn,
		EmailSource:    emailSource,
		CalendarSource: calSource,
	}, &fakeChannel{name: "whatsapp"}, terminal)

	notified, err := s.dailySummary(context.Background())
	require.NoError(t, err)
	assert.True(t, notified)

	prompt := reason.lastPrompt()
	assert.Contains(t, prompt, "(Could not fetch calendar)")
	assert.Contains(t, prompt, "(Could not fetch emails)")
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	reason := &capturingReason{}
	s := newSchedulerForTest(t, Config{
		Reason:         reason.fn,
		EmailSource:    &mockEmailSource{},
		CalendarSource: &mockCalendarSource{},
		DailySummaryAt: "08:00",
	}, &fakeChannel{name: "whatsapp"}, &fakeChannel{name: "terminal"})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Equal(t, []string{JobGmailCheck, JobCalendarCheck, JobDailySummary}, s.Jobs())

	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	err = s.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestScheduler_NoJobsConfigured(t *testing.T) {
	reason := &capturingReason{}
	s := newSchedulerForTest(t, Config{
		Reason: reason.fn,
	}, &fakeChannel{name: "terminal"})

	require.NoError(t, s.Start())
	assert.Empty(t, s.Jobs())
	require.NoError(t, s.Stop())
}

func TestRunJob_EmitsEvents(t *testing.T) {
	var mu sync.Mutex
	var events []RunEvent

	reason := &capturingReason{}
	s := newSchedulerForTest(t, Config{
		Reason:  reason.fn,
		OnEvent: func(e RunEvent) { mu.Lock(); events = append(events, e); mu.Unlock() },
	}, &fakeChannel{name: "terminal"})

	s.runJob("test_ok", func(_ context.Context) (bool, error) { return true, nil })()
	s.runJob("test_fail", func(_ context.Context) (bool, error) { return false, fmt.Errorf("boom") })()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)

	assert.Equal(t, "test_ok", events[0].Job)
	assert.Equal(t, "ok", events[0].Status)
	assert.True(t, events[0].Notified)

	assert.Equal(t, "test_fail", events[1].Job)
	assert.Equal(t, "error", events[1].Status)
	assert.Equal(t, "boom", events[1].Error)
	assert.False(t, events[1].Notified)
}

func TestFormatEmails(t *testing.T) {
	out := formatEmails([]Email{
		{Sender: "a@example.com", Subject: "Hi", Snippet: strings.Repeat("x", 300)},
	})
	assert.Contains(t, out, "- **From:** a@example.com")
	assert.Contains(t, out, "**Preview:** "+strings.Repeat("x", 200))
	assert.NotContains(t, out, strings.Repeat("x", 201))
}

func TestFormatEvents_OmitsEmptyLocation(t *testing.T) {
	out := formatEvents([]Event{
		{Title: "Standup", Start: "09:00", End: "09:15"},
	})
	assert.Contains(t, out, "- **Standup**")
	assert.Contains(t, out, "09:00 - 09:15")
	assert.NotContains(t, out, "Location:")
}
