package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/printdesk/internal/config"
	"github.com/harun/printdesk/internal/ipp"
	"github.com/harun/printdesk/internal/logger"
	"github.com/harun/printdesk/internal/observability"
	"github.com/harun/printdesk/internal/telegram"
	"github.com/harun/printdesk/internal/tracing"
	"github.com/harun/printdesk/pkg/commandqueue"
	"github.com/harun/printdesk/pkg/conversation"
	"github.com/harun/printdesk/pkg/files"
	"github.com/harun/printdesk/pkg/journal"
	"github.com/harun/printdesk/pkg/printjob"
	"github.com/harun/printdesk/pkg/router"
	"github.com/harun/printdesk/pkg/session"
)

// Transport is a messaging transport the daemon can run
type Transport interface {
	router.Transport
	Run(ctx context.Context, onEvent telegram.EventFunc, onConn telegram.ConnFunc) error
}

// Option configures a Daemon
type Option func(*Daemon)

// WithTransport replaces the Telegram bot
func WithTransport(t Transport) Option {
	return func(d *Daemon) {
		d.transport = t
	}
}

// WithConnector replaces the IPP connector
func WithConnector(c printjob.Connector) Option {
	return func(d *Daemon) {
		d.connector = c
	}
}

// WithLoader enables hot reload of the loader's config file
func WithLoader(l *config.Loader) Option {
	return func(d *Daemon) {
		d.loader = l
	}
}

// WithVersion sets the version reported in traces
func WithVersion(v string) Option {
	return func(d *Daemon) {
		d.version = v
	}
}

// Daemon runs the print bot
type Daemon struct {
	version string


	config *config.Config
	live   *config.Live
	loader *config.Loader
	logger *logger.Logger

	queue     *commandqueue.CommandQueue
	store     session.Store
	files     *files.Manager
	journal   *journal.Journal
	connector printjob.Connector
	transport Transport
	router    *router.Router

	scheduler *cron.Cron
	watcher   *config.Watcher
	metrics   *http.Server
	metricsAt string
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	fatal  chan error

	startTime time.Time
	running   bool
	connected bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon. Nothing is started until Start.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		version: "dev",
		config:  cfg,
		live:    config.NewLive(cfg),
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		fatal:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		d.closeStores()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds the conversation pipeline
func (d *Daemon) initializeCoreModules() error {
	if err := tracing.InitOpenTelemetry(logger.ServiceName, d.version); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if path := d.config.Logging.AuditFile; path != "" {
		if err := observability.InitAuditLogger(path); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using stderr")
		} else {
			d.logger.Info().Str("path", path).Msg("Audit logger initialized")
		}
	}

	d.queue = commandqueue.New()

	store, err := d.openStore()
	if err != nil {
		return err
	}
	d.store = store
	d.logger.Info().Str("backend", d.config.Store.Backend).Msg("Session store initialized")

	d.files = files.New(d.config.Uploads.Dir, d.logger.GetZerolog())

	if d.config.Journal.Enabled {
		j, err := journal.Open(d.config.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open job journal: %w", err)
		}
		d.journal = j
		d.logger.Info().Str("path", d.config.Journal.Path).Msg("Job journal opened")
	}

	if d.connector == nil {
		d.connector = ipp.New(
			ipp.WithCredentials(d.config.Printer.Username, d.config.Printer.Password),
			ipp.WithLogger(d.logger.GetZerolog()),
		)
	}

	if d.transport == nil {
		bot, err := telegram.New(&d.config.Telegram, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		d.transport = bot
	}

	submitter := printjob.NewSubmitter(d.connector, d.live,
		printjob.WithRetry(d.config.Printer.RetryAttempts, d.config.Printer.RetryDelay()),
		printjob.WithRequestingUser(d.config.Printer.RequestingUser),
		printjob.WithLogger(d.logger.GetZerolog()),
	)

	machine := conversation.New(conversation.Options{
		Greetings:        d.config.Conversation.Greetings,
		Messages:         conversation.DefaultMessages(),
		ReleaseOnRestart: d.config.Conversation.ReleaseOnRestart,
		MaxCopies:        d.config.Conversation.MaxCopies,
	})

	cfg := router.Config{
		Machine:   machine,
		Store:     d.store,
		Queue:     d.queue,
		Transport: d.transport,
		Printer:   submitter,
		Files:     d.files,
		Logger:    d.logger.GetZerolog(),
		WarnAfter: 30 * time.Second,
	}
	if d.journal != nil {
		cfg.Journal = d.journal
	}

	r, err := router.New(cfg)
	if err != nil {
		return err
	}
	d.router = r

	return nil
}

func (d *Daemon) openStore() (session.Store, error) {
	switch d.config.Store.Backend {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		rc := d.config.Store.Redis
		store := session.NewRedisStore(rc.Addr, rc.Password, rc.DB, session.WithPrefix(rc.Prefix))

		ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session store backend: %s", d.config.Store.Backend)
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.Component("daemon").With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting printdesk daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.files.EnsureDir(); err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}
	if maxAge := d.config.Uploads.OrphanMaxAge; maxAge > 0 {
		d.sweepOrphans(maxAge, logger)
	}

	if d.config.Printer.Endpoint == "" {
		logger.Warn().Msg("Printer endpoint is not configured, print jobs will fail until it is set")
	}

	if err := d.startMetrics(logger); err != nil {
		return err
	}

	if err := d.startEviction(logger); err != nil {
		return err
	}

	d.startWatcher(logger)

	if bot, ok := d.transport.(*telegram.Bot); ok {
		if err := bot.Commands().Publish(); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish bot commands")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.transport.Run(d.ctx, d.router.Accept, d.onConn); err != nil {
			logger.Error().Err(err).Msg("Transport stopped")
			select {
			case d.fatal <- err:
			default:
			}
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started")

	return nil
}

func (d *Daemon) onConn(e telegram.ConnEvent) {
	d.mu.Lock()
	d.connected = e.Kind == telegram.Opened
	d.mu.Unlock()

	ev := d.logger.Info()
	if e.Kind == telegram.Closed && !e.Reconnectable {
		ev = d.logger.Error()
	}
	ev.Str("state", e.Kind.String()).
		Str("reason", e.Reason).
		Bool("reconnectable", e.Reconnectable).
		Dur("retry_in", e.RetryIn).
		Msg("Transport connection changed")
}

func (d *Daemon) startMetrics(logger zerolog.Logger) error {
	addr := d.config.Metrics.Listen
	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	d.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	d.metricsAt = ln.Addr().String()
	logger.Info().Str("addr", d.metricsAt).Msg("Metrics server started")
	return nil
}

// startEviction schedules idle session eviction when an idle timeout is set
func (d *Daemon) startEviction(logger zerolog.Logger) error {
	idle := d.config.Sessions.IdleTimeout
	if idle <= 0 {
		return nil
	}

	d.scheduler = cron.New()
	if _, err := d.scheduler.AddFunc(d.config.Sessions.SweepInterval, d.evictIdle); err != nil {
		return fmt.Errorf("invalid sweep interval %q: %w", d.config.Sessions.SweepInterval, err)
	}
	d.scheduler.Start()

	logger.Info().
		Dur("idle_timeout", idle).
		Str("schedule", d.config.Sessions.SweepInterval).
		Msg("Idle session eviction scheduled")
	return nil
}

// sweepOrphans removes stale uploads that no stored session references.
// Durable stores keep sessions across restarts, so their files are kept.
func (d *Daemon) sweepOrphans(maxAge time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
	defer cancel()

	sessions, err := d.store.List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Skipping orphan sweep, sessions could not be listed")
		return
	}

	keep := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.HasFile() {
			keep = append(keep, s.FilePath)
		}
	}

	removed, err := d.files.Sweep(maxAge, keep...)
	if err != nil {
		logger.Warn().Err(err).Msg("Orphan sweep failed")
	} else if removed > 0 {
		logger.Info().Int("removed", removed).Int("kept", len(keep)).Msg("Removed orphaned uploads")
	}
}

func (d *Daemon) evictIdle() {
	ctx := tracing.NewRequestContext(d.ctx)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := d.router.EvictIdle(ctx, d.config.Sessions.IdleTimeout); err != nil {
		d.logger.Warn().Err(err).Msg("Idle eviction failed")
	}
}

func (d *Daemon) startWatcher(logger zerolog.Logger) {
	if d.loader == nil {
		return
	}
	if _, err := os.Stat(d.loader.GetConfigPath()); err != nil {
		logger.Debug().Str("path", d.loader.GetConfigPath()).Msg("No config file to watch")
		return
	}

	w, err := config.NewWatcher(d.loader, d.live, d.logger.GetZerolog(), nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to watch config file")
		return
	}
	d.watcher = w
	logger.Info().Str("path", d.loader.GetConfigPath()).Msg("Watching config file")
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.Component("daemon").With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping printdesk daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
	}

	// Stop polling, then let queued messages finish
	d.cancel()
	d.eventLoop.HandleShutdown()

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close command queue")
		}
	}

	if d.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metrics.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.closeStores()

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped")

	return nil
}

func (d *Daemon) closeStores() {
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close job journal")
		}
		d.journal = nil
	}
	if c, ok := d.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close session store")
		}
	}
}

// Status is a snapshot of the daemon state
type Status struct {
	Running   bool
	Connected bool
	Uptime    time.Duration
	StartTime time.Time
	Lanes     int
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		Connected: d.connected,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Lanes = d.queue.LaneCount()
	}

	return status
}

// Wait blocks until SIGINT/SIGTERM or a fatal transport error, then stops
// the daemon. The transport error, if any, is returned.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var cause error
	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case cause = <-d.fatal:
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
	return cause
}

// GetConfig returns the current configuration, including hot reloads
func (d *Daemon) GetConfig() *config.Config {
	return d.live.Get()
}

// GetRouter returns the message router
func (d *Daemon) GetRouter() *router.Router {
	return d.router
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetStore returns the session store
func (d *Daemon) GetStore() session.Store {
	return d.store
}
