package heartbeat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/nara/internal/observability"
	"github.com/harun/nara/internal/tracing"
)

// NoNotification is the suppression sentinel. A reasoning result containing
// it is dropped instead of notified.
const NoNotification = "NO_NOTIFICATION"

// Job names as they appear in run events and logs.
const (
	JobGmailCheck    = "gmail_check"
	JobCalendarCheck = "calendar_check"
	JobDailySummary  = "daily_summary"
)

const (
	pollEmailMax  = 20
	dailyEmailMax = 10
	eventMax      = 20
	dailyHorizon  = 24 * time.Hour

	// DefaultPollInterval spaces source polls when none is configured.
	DefaultPollInterval = 15 * time.Minute
	// DefaultCalendarHorizon bounds how far ahead calendar polls look.
	DefaultCalendarHorizon = 24 * time.Hour
)

// ReasonFunc asks the agent to reason over gathered context and decide
// whether the user should be notified.
type ReasonFunc func(ctx context.Context, prompt string) (string, error)

// ContextFunc supplies the identity context block prepended to reasoning
// prompts.
type ContextFunc func(ctx context.Context) string

// RunEvent describes one completed heartbeat job run.
type RunEvent struct {
	Job        string    `json:"job"`
	Status     string    `json:"status"`
	Notified   bool      `json:"notified"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Config configures a heartbeat Scheduler. A nil source disables its poll
// job; an empty DailySummaryAt disables the daily summary.
type Config struct {
	Notifier *Notifier
	Reason   ReasonFunc
	Context  ContextFunc

	EmailSource   EmailSource
	EmailInterval time.Duration

	CalendarSource   CalendarSource
	CalendarInterval time.Duration
	CalendarHorizon  time.Duration

	// DailySummaryAt is a local "HH:MM" wall-clock time.
	DailySummaryAt string

	// OnEvent receives a RunEvent after every job run. Optional.
	OnEvent func(RunEvent)

	Logger zerolog.Logger
}

// Scheduler runs periodic data-gathering jobs and a daily summary. Each job
// gathers data, asks the reasoning function whether the user should know,
// and notifies unless the result carries the suppression sentinel.
type Scheduler struct {
	notifier *Notifier
	reason   ReasonFunc
	context  ContextFunc
	onEvent  func(RunEvent)

	emailSource   EmailSource
	emailInterval time.Duration

	calendarSource   CalendarSource
	calendarInterval time.Duration
	calendarHorizon  time.Duration

	dailySummaryAt string

	logger zerolog.Logger

	mu             sync.Mutex
	cron           *cron.Cron
	jobs           []string
	running        bool
	lastEmailCheck time.Time
}

// NewScheduler creates a heartbeat scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if cfg.Reason == nil {
		return nil, fmt.Errorf("reason function is required")
	}

	if cfg.EmailInterval <= 0 {
		cfg.EmailInterval = DefaultPollInterval
	}
	if cfg.CalendarInterval <= 0 {
		cfg.CalendarInterval = DefaultPollInterval
	}
	if cfg.CalendarHorizon <= 0 {
		cfg.CalendarHorizon = DefaultCalendarHorizon
	}

	if cfg.DailySummaryAt != "" {
		if _, _, err := parseDailyTime(cfg.DailySummaryAt); err != nil {
			return nil, err
		}
	}

	return &Scheduler{
		notifier:         cfg.Notifier,
		reason:           cfg.Reason,
		context:          cfg.Context,
		onEvent:          cfg.OnEvent,
		emailSource:      cfg.EmailSource,
		emailInterval:    cfg.EmailInterval,
		calendarSource:   cfg.CalendarSource,
		calendarInterval: cfg.CalendarInterval,
		calendarHorizon:  cfg.CalendarHorizon,
		dailySummaryAt:   cfg.DailySummaryAt,
		logger:           cfg.Logger.With().Str("component", "heartbeat").Logger(),
	}, nil
}

// Start schedules the configured jobs and begins running them.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("heartbeat scheduler already running")
	}

	c := cron.New()
	jobs := make([]string, 0, 3)

	if s.emailSource != nil {
		if _, err := c.AddFunc("@every "+s.emailInterval.String(), s.runJob(JobGmailCheck, s.checkEmail)); err != nil {
			return fmt.Errorf("failed to schedule gmail check: %w", err)
		}
		jobs = append(jobs, JobGmailCheck)
	}

	if s.calendarSource != nil {
		if _, err := c.AddFunc("@every "+s.calendarInterval.String(), s.runJob(JobCalendarCheck, s.checkCalendar)); err != nil {
			return fmt.Errorf("failed to schedule calendar check: %w", err)
		}
		jobs = append(jobs, JobCalendarCheck)
	}

	if s.dailySummaryAt != "" {
		hour, minute, err := parseDailyTime(s.dailySummaryAt)
		if err != nil {
			return err
		}
		spec := fmt.Sprintf("%d %d * * *", minute, hour)
		if _, err := c.AddFunc(spec, s.runJob(JobDailySummary, s.dailySummary)); err != nil {
			return fmt.Errorf("failed to schedule daily summary: %w", err)
		}
		jobs = append(jobs, JobDailySummary)
	}

	c.Start()

	s.cron = c
	s.jobs = jobs
	s.running = true

	s.logger.Info().Strs("jobs", jobs).Msg("heartbeat scheduler started")
	return nil
}

// Stop halts job scheduling. Jobs already running complete in the
// background.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("heartbeat scheduler is not running")
	}

	s.cron.Stop()
	s.cron = nil
	s.running = false

	s.logger.Info().Msg("heartbeat scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.jobs...)
}

// checkEmail polls for unread emails and reasons over them.
func (s *Scheduler) checkEmail(ctx context.Context) (bool, error) {
	s.mu.Lock()
	since := s.lastEmailCheck
	s.mu.Unlock()

	emails, err := s.emailSource.FetchUnread(ctx, since, pollEmailMax)
	if err != nil {
		return false, fmt.Errorf("failed to fetch unread emails: %w", err)
	}

	s.mu.Lock()
	s.lastEmailCheck = time.Now()
	s.mu.Unlock()

	if len(emails) == 0 {
		return false, nil
	}

	prompt := s.identityContext(ctx) + "\n\n" +
		"## New Emails\n" + formatEmails(emails) + "\n\n" +
		"Based on these emails and the user's preferences, " +
		"should the user be notified about any of them? " +
		"If yes, write a brief notification message. " +
		"If no, respond with exactly: " + NoNotification

	response, err := s.reason(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("failed to reason over emails: %w", err)
	}
	if !shouldNotify(response) {
		return false, nil
	}

	if err := s.notifier.Notify(TypeUrgentEmail, response); err != nil {
		return false, err
	}
	return true, nil
}

// checkCalendar polls for upcoming events and reasons over them.
func (s *Scheduler) checkCalendar(ctx context.Context) (bool, error) {
	events, err := s.calendarSource.FetchUpcoming(ctx, s.calendarHorizon, eventMax)
	if err != nil {
		return false, fmt.Errorf("failed to fetch upcoming events: %w", err)
	}

	if len(events) == 0 {
		return false, nil
	}

	prompt := s.identityContext(ctx) + "\n\n" +
		"## Upcoming Events\n" + formatEvents(events) + "\n\n" +
		"Based on these events and the user's preferences, " +
		"should the user be reminded about anything? " +
		"If yes, write a brief reminder. " +
		"If no, respond with exactly: " + NoNotification

	response, err := s.reason(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("failed to reason over events: %w", err)
	}
	if !shouldNotify(response) {
		return false, nil
	}

	if err := s.notifier.Notify(TypeCalendarReminder, response); err != nil {
		return false, err
	}
	return true, nil
}

// dailySummary gathers calendar and email state and sends a briefing.
func (s *Scheduler) dailySummary(ctx context.Context) (bool, error) {
	parts := []string{s.identityContext(ctx), "\n\n## Daily Summary Request\n"}

	if s.calendarSource != nil {
		events, err := s.calendarSource.FetchUpcoming(ctx, dailyHorizon, eventMax)
		switch {
		case err != nil:
			parts = append(parts, "### Calendar\n(Could not fetch calendar)\n")
		case len(events) > 0:
			parts = append(parts, "### Today's Calendar\n"+formatEvents(events)+"\n")
		}
	}

	if s.emailSource != nil {
		emails, err := s.emailSource.FetchUnread(ctx, time.Time{}, dailyEmailMax)
		switch {
		case err != nil:
			parts = append(parts, "### Email\n(Could not fetch emails)\n")
		case len(emails) > 0:
			parts = append(parts, "### Unread Emails\n"+formatEmails(emails)+"\n")
		}
	}

	parts = append(parts, "Write a concise daily briefing for the user covering their schedule and important emails.")

	response, err := s.reason(ctx, strings.Join(parts, "\n"))
	if err != nil {
		return false, fmt.Errorf("failed to reason over daily summary: %w", err)
	}
	if !shouldNotify(response) {
		return false, nil
	}

	if err := s.notifier.Notify(TypeDailySummary, response); err != nil {
		return false, err
	}
	return true, nil
}

// runJob wraps a job body with tracing, metrics and event emission.
func (s *Scheduler) runJob(name string, fn func(ctx context.Context) (bool, error)) func() {
	return func() {
		ctx, span := tracing.StartSpan(context.Background(), "nara.heartbeat", "heartbeat."+name)
		defer span.End()
		logger := tracing.LoggerFromContext(ctx, s.logger)

		start := time.Now()
		notified, err := fn(ctx)
		duration := time.Since(start)

		observability.RecordHeartbeatRun(name, duration, err == nil)

		event := RunEvent{
			Job:        name,
			Status:     "ok",
			Notified:   notified,
			DurationMs: duration.Milliseconds(),
			At:         time.Now().UTC(),
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Str("job", name).Msg("heartbeat job failed")
			event.Status = "error"
			event.Error = err.Error()
		} else {
			logger.Debug().
				Str("job", name).
				Bool("notified", notified).
				Dur("duration", duration).
				Msg("heartbeat job completed")
		}

		if s.onEvent != nil {
			s.onEvent(event)
		}
	}
}

func (s *Scheduler) identityContext(ctx context.Context) string {
	if s.context == nil {
		return ""
	}
	return s.context(ctx)
}

// shouldNotify reports whether a reasoning result warrants a notification.
func shouldNotify(response string) bool {
	return response != "" && !strings.Contains(response, NoNotification)
}

// parseDailyTime parses a wall-clock "HH:MM" time.
func parseDailyTime(value string) (hour, minute int, err error) {
	parts := strings.SplitN(value, ":", 2)
	hour, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily summary time %q: %w", value, err)
	}
	if len(parts) == 2 {
		minute, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid daily summary time %q: %w", value, err)
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid daily summary time %q", value)
	}
	return hour, minute, nil
}
