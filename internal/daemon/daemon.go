// Package daemon wires the nara components together: memory, skills, agent,
// sessions, channels, heartbeat, and the websocket gateway.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/internal/observability"
	"github.com/harun/nara/internal/tracing"
	"github.com/harun/nara/pkg/agent"
	"github.com/harun/nara/pkg/channels"
	"github.com/harun/nara/pkg/gateway"
	"github.com/harun/nara/pkg/heartbeat"
	"github.com/harun/nara/pkg/memory"
	"github.com/harun/nara/pkg/session"
	"github.com/harun/nara/pkg/skills"
)

// Daemon owns every component of a running nara instance and their
// lifecycles.
type Daemon struct {
	cfg     *config.Config
	baseLog zerolog.Logger
	logger  zerolog.Logger

	memory        *memory.Manager
	skillsLoader  *skills.Loader
	skillsWatcher *skills.Watcher
	agent         *agent.Agent
	sessions      *session.Manager
	janitor       *session.Janitor
	registry      *channels.Registry
	notifier      *heartbeat.Notifier
	scheduler     *heartbeat.Scheduler
	gateway       *gateway.Server

	mu        sync.Mutex
	running   bool
	startTime time.Time

	tracingEnabled bool
}

// New creates a daemon with every configured component initialized but not
// yet started.
func New(cfg *config.Config, log zerolog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	observability.EnsureRegistered()

	d := &Daemon{
		cfg:     cfg,
		baseLog: log,
		logger:  log.With().Str("component", "daemon").Logger(),
	}

	if err := tracing.InitOpenTelemetry("nara-daemon"); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initComponents(); err != nil {
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, err
	}

	return d, nil
}

var newEmbeddingLoader = func(cfg *config.Config) memory.LoaderFunc {
	return memory.OpenAILoader(memory.OpenAIEmbedderConfig{
		APIKey:  cfg.Memory.Embedding.APIKey,
		BaseURL: cfg.Memory.Embedding.BaseURL,
		Model:   cfg.Memory.Embedding.Model,
	})
}

// NewMemoryManager builds the memory manager from configuration. Shared by
// the daemon and the one-shot CLI commands.
func NewMemoryManager(cfg *config.Config, log zerolog.Logger) (*memory.Manager, error) {
	return memory.NewManager(memory.Config{
		MemoryDir:    cfg.Memory.Dir,
		DBPath:       cfg.Memory.DBPath,
		ModelID:      cfg.Memory.Embedding.Model,
		Dimension:    cfg.Memory.Embedding.Dimension,
		Loader:       newEmbeddingLoader(cfg),
		ChunkTokens:  cfg.Memory.ChunkTokens,
		ChunkOverlap: cfg.Memory.ChunkOverlap,
		TopK:         cfg.Memory.SearchTopK,
		VectorWeight: cfg.Memory.VectorWeight,
		TextWeight:   cfg.Memory.TextWeight,
		Logger:       log,
	})
}

// initComponents builds all components in dependency order.
func (d *Daemon) initComponents() error {
	cfg := d.cfg
	log := d.baseLog

	manager, err := NewMemoryManager(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create memory manager: %w", err)
	}
	d.memory = manager
	d.logger.Info().Str("dir", cfg.Memory.Dir).Msg("Memory manager initialized")

	d.skillsLoader = skills.NewLoader(skills.LoaderConfig{Dir: cfg.Skills.Dir, Logger: log})
	skillSet, err := d.skillsLoader.Discover()
	if err != nil {
		d.logger.Warn().Err(err).Msg("Skill discovery failed, starting without skills")
	}
	d.logger.Info().Int("skills", len(skillSet)).Msg("Skills loaded")

	completer, err := NewCompleter(cfg, log)
	if err != nil {
		d.logger.Warn().Msg("No agent command configured, chat and heartbeat reasoning are disabled")
		completer = unavailableCompleter{}
	}

	ag, err := agent.New(agent.Config{
		Memory:    manager,
		Completer: completer,
		Skills:    skillSet,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	d.agent = ag
	d.logger.Info().Msg("Agent initialized")

	dailyLog := session.NewDailyLog(filepath.Join(cfg.Memory.Dir, "daily"), log)
	d.sessions = session.NewManager(session.ManagerConfig{
		IdleTimeout: time.Duration(cfg.Agent.SessionTimeoutMinutes) * time.Minute,
		DailyLog:    dailyLog,
		Logger:      log,
	})
	d.janitor = session.NewJanitor(d.sessions, session.DefaultJanitorInterval, log)
	d.logger.Info().Msg("Session manager initialized")

	d.registry = channels.NewRegistry(d.dispatch)
	if cfg.Channels.Terminal.Enabled {
		terminal := channels.NewTerminalChannel(channels.TerminalConfig{Logger: log})
		if err := d.registry.Register(terminal); err != nil {
			return fmt.Errorf("failed to register terminal channel: %w", err)
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		// The WhatsApp adapter needs a bridge client; none ships here.
		d.logger.Warn().Msg("WhatsApp channel enabled but no bridge client is configured, skipping")
	}

	notifier, err := heartbeat.NewNotifier(heartbeat.NotifierConfig{
		Routes:         cfg.Notifications.Routes,
		DefaultChannel: cfg.Notifications.Default,
		Registry:       d.registry,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	d.notifier = notifier

	if cfg.Heartbeat.Enabled {
		if cfg.Heartbeat.Gmail.Enabled {
			d.logger.Info().Msg("Gmail polling enabled but no mail source is wired, skipping")
		}
		if cfg.Heartbeat.Calendar.Enabled {
			d.logger.Info().Msg("Calendar polling enabled but no calendar source is wired, skipping")
		}

		scheduler, err := heartbeat.NewScheduler(heartbeat.Config{
			Notifier: notifier,
			Reason: func(ctx context.Context, prompt string) (string, error) {
				return d.agent.Reason(ctx, "", prompt)
			},
			Context:          d.agent.IdentityContext,
			EmailInterval:    time.Duration(cfg.Heartbeat.Gmail.IntervalMinutes) * time.Minute,
			CalendarInterval: time.Duration(cfg.Heartbeat.Calendar.IntervalMinutes) * time.Minute,
			CalendarHorizon:  time.Duration(cfg.Heartbeat.Calendar.HoursAhead) * time.Hour,
			DailySummaryAt:   dailySummaryAt(cfg),
			OnEvent:          d.onHeartbeatEvent,
			Logger:           log,
		})
		if err != nil {
			return fmt.Errorf("failed to create heartbeat scheduler: %w", err)
		}
		d.scheduler = scheduler
		d.logger.Info().Msg("Heartbeat scheduler initialized")
	}

	if cfg.Gateway.Enabled {
		server, err := gateway.NewServer(gateway.Config{
			Port:   cfg.Gateway.Port,
			Status: d.statusSnapshot,
			Sync:   d.syncNow,
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gateway = server
		d.logger.Info().Msg("Gateway server initialized")
	}

	return nil
}

// Start brings every component up: initial sync, watchers, janitor,
// heartbeat, gateway, then ingress channels last.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	logger := tracing.LoggerFromContext(ctx, d.logger)
	logger.Info().Msg("Starting nara daemon")

	if stats, err := d.memory.Sync(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial memory sync failed, the index may be stale")
	} else {
		logger.Info().
			Int("added", stats.Added).
			Int("updated", stats.Updated).
			Int("deleted", stats.Deleted).
			Int("unchanged", stats.Unchanged).
			Msg("Initial memory sync complete")
	}

	if d.cfg.Memory.Watch {
		debounce := time.Duration(d.cfg.Memory.WatchDebounceSeconds) * time.Second
		if err := d.memory.StartWatching(debounce); err != nil {
			logger.Warn().Err(err).Msg("Failed to start memory watcher")
		} else {
			logger.Info().Msg("Memory watcher started")
		}
	}

	if d.cfg.Skills.Watch {
		watcher, err := skills.NewWatcher(skills.WatcherConfig{
			Loader:   d.skillsLoader,
			Debounce: skills.DefaultReloadDebounce,
			Logger:   d.baseLog,
			OnUpdate: d.agent.SetSkills,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to start skills watcher")
		} else {
			d.skillsWatcher = watcher
			logger.Info().Msg("Skills watcher started")
		}
	}

	if err := d.janitor.Start(); err != nil {
		return fmt.Errorf("failed to start session janitor: %w", err)
	}

	if d.scheduler != nil {
		if err := d.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start heartbeat scheduler: %w", err)
		}
		logger.Info().Strs("jobs", d.scheduler.Jobs()).Msg("Heartbeat scheduler started")
	}

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		logger.Info().Str("addr", d.gateway.Addr()).Msg("Gateway listening")
	}

	if err := d.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}
	if names := d.registry.Names(); len(names) > 0 {
		logger.Info().Strs("channels", names).Msg("Channels started")
	}

	logger.Info().Msg("Daemon started")
	return nil
}

// Stop shuts everything down in reverse order. Component failures are
// logged, not returned; the memory store always gets closed.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return errors.New("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping nara daemon")
	ctx := context.Background()

	if err := d.registry.StopAll(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop channels")
	}

	if d.scheduler != nil && d.scheduler.IsRunning() {
		if err := d.scheduler.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop heartbeat scheduler")
		}
	}

	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if d.skillsWatcher != nil {
		d.skillsWatcher.Stop()
		d.skillsWatcher = nil
	}

	if d.janitor.IsRunning() {
		if err := d.janitor.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop session janitor")
		}
	}

	if err := d.memory.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close memory manager")
	}

	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to shut down tracing")
		}
		d.tracingEnabled = false
	}

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	d.logger.Info().Msg("Shutdown requested")

	return d.Stop()
}

// GatewayAddr returns the gateway's listen address, empty when the gateway
// is disabled or not started.
func (d *Daemon) GatewayAddr() string {
	if d.gateway == nil {
		return ""
	}
	return d.gateway.Addr()
}

// dispatch routes one inbound channel message through a session to the
// agent and records the exchange.
func (d *Daemon) dispatch(ctx context.Context, msg channels.InboundMessage) (string, error) {
	sess := d.sessions.GetOrCreate(msg.Channel, msg.Sender)

	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	ctx = tracing.WithSessionID(ctx, sess.ID)
	ctx = tracing.WithChannel(ctx, msg.Channel)

	history := d.sessions.History(sess.ID)
	turns := make([]agent.Message, 0, len(history))
	for _, m := range history {
		turns = append(turns, agent.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := d.agent.Chat(ctx, turns, msg.Content)
	if err != nil {
		return "", err
	}

	d.sessions.AddExchange(sess.ID, msg.Content, reply)
	return reply, nil
}

// onHeartbeatEvent forwards heartbeat run results to gateway subscribers.
func (d *Daemon) onHeartbeatEvent(ev heartbeat.RunEvent) {
	if d.gateway != nil {
		d.gateway.BroadcastHeartbeat(ev)
	}
}

// statusSnapshot serves the gateway's status method.
func (d *Daemon) statusSnapshot(ctx context.Context) (interface{}, error) {
	d.mu.Lock()
	running := d.running
	startTime := d.startTime
	d.mu.Unlock()

	var uptime int64
	if running && !startTime.IsZero() {
		uptime = int64(time.Since(startTime).Seconds())
	}

	snapshot := map[string]interface{}{
		"running":        running,
		"uptime_seconds": uptime,
		"memory":         d.memory.Status(ctx),
		"sessions":       d.sessions.ActiveSessions(),
		"channels":       d.registry.Names(),
	}
	if d.scheduler != nil {
		snapshot["heartbeat_jobs"] = d.scheduler.Jobs()
	}
	return snapshot, nil
}

// syncNow serves the gateway's manual sync method.
func (d *Daemon) syncNow(ctx context.Context) (interface{}, error) {
	stats, err := d.memory.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// dailySummaryAt resolves the configured daily summary time, empty when the
// job is disabled.
func dailySummaryAt(cfg *config.Config) string {
	if !cfg.Heartbeat.DailySummary.Enabled {
		return ""
	}
	return cfg.Heartbeat.DailySummary.Time
}
