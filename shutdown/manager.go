package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cardgen/logging"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager ties signal handling to the cleanup registry. The first SIGINT or
// SIGTERM cancels Context and the main goroutine runs Shutdown; a second
// signal exits immediately.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	registry *Registry
	sigChan  chan os.Signal

	mu       sync.Mutex
	started  bool
	shutdown bool
	sigCount int

	// exit replaces os.Exit in tests.
	exit func(code int)
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides the shutdown sequence timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager creates a shutdown manager.
func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  DefaultTimeout,
		ctx:      ctx,
		cancel:   cancel,
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 1),
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled once shutdown is initiated. Long-running components
// watch it to stop admitting work.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup step; lower priorities run first.
func (m *Manager) Register(name string, priority int, fn Func) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown step",
		zap.String("name", name), zap.Int("priority", priority))
}

// Start begins listening for SIGINT and SIGTERM. Safe to call once; later
// calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go m.watchSignals()
}

func (m *Manager) watchSignals() {
	for sig := range m.sigChan {
		m.mu.Lock()
		m.sigCount++
		count := m.sigCount
		m.mu.Unlock()

		if count == 1 {
			m.logger.Info("shutdown signal received",
				zap.String("signal", sig.String()))
			m.cancel()
			continue
		}
		m.logger.Warn("second signal received, forcing exit")
		m.exit(1)
	}
}

// Trigger initiates graceful shutdown programmatically, as a signal would.
func (m *Manager) Trigger() {
	m.cancel()
}

// Wait blocks until shutdown is initiated.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// Shutdown runs the cleanup sequence under the configured timeout.
// Idempotent: later calls return nil without running anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.mu.Unlock()

	start := time.Now()
	m.logger.Info("running shutdown sequence",
		zap.Duration("timeout", m.timeout),
		zap.Strings("steps", m.registry.Names()))

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	errs := m.registry.Run(ctx)
	for _, err := range errs {
		m.logger.Errorw("shutdown step failed", zap.Error(err))
	}

	signal.Stop(m.sigChan)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %d steps failed", len(errs))
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}
