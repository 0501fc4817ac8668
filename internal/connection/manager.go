// Package connection owns the underlying database client handle: it opens
// the connection lazily, tracks activity metrics, flags idle connections
// for transparent re-initialization, and closes everything down.
package connection

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/core/docdb"
	domainerrors "github.com/docbridge/docbridge/internal/domain/errors"
)

// State of the lifecycle manager.
type State string

// Lifecycle states.
const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateClosed        State = "closed"
)

// Default idle-monitor timings.
const (
	DefaultIdleTimeout = 5 * time.Minute
	DefaultMaxIdleTime = 10 * time.Minute
)

// Factory opens the underlying database client.
type Factory func(ctx context.Context) (docdb.Client, error)

// Options configures pooling behavior.
type Options struct {
	// PoolingEnabled starts the idle monitor after a successful connect.
	PoolingEnabled bool

	// IdleTimeout is the idle-monitor check period.
	IdleTimeout time.Duration

	// MaxIdleTime is the inactivity threshold after which the connection
	// is flagged stale.
	MaxIdleTime time.Duration
}

// Metrics is a point-in-time snapshot of connection activity.
type Metrics struct {
	Connected      bool          `json:"connected"`
	LastActivity   time.Time     `json:"lastActivity"`
	IdleTime       time.Duration `json:"idleTime"`
	OperationCount int64         `json:"operationCount"`
}

// Manager is the connection lifecycle state machine. One manager owns one
// underlying client; all operation services of an adapter share it.
type Manager struct {
	mu      sync.Mutex
	factory Factory
	opts    Options
	logger  zerolog.Logger

	state        State
	client       docdb.Client
	stale        bool
	lastActivity time.Time
	opCount      int64

	stopMonitor chan struct{}
	monitorWG   sync.WaitGroup

	// now is the activity clock; replaceable in tests.
	now func() time.Time
}

// New creates a manager. It refuses to construct on runtimes the database
// client cannot operate in.
func New(factory Factory, opts Options, logger zerolog.Logger) (*Manager, error) {
	if err := checkRuntime(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, domainerrors.NewConfiguration("connection factory is required", nil)
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxIdleTime <= 0 {
		opts.MaxIdleTime = DefaultMaxIdleTime
	}
	return &Manager{
		factory: factory,
		opts:    opts,
		logger:  logger.With().Str("component", "connection").Logger(),
		state:   StateUninitialized,
		now:     time.Now,
	}, nil
}

// checkRuntime fails fast on execution environments without the network
// stack the client requires.
func checkRuntime() error {
	switch runtime.GOOS {
	case "js", "wasip1":
		return domainerrors.NewIncompatibleRuntime(runtime.GOOS)
	}
	return nil
}

// Initialize opens the connection if needed. Calling it on a connected
// manager refreshes the activity timestamp and returns the existing handle;
// it never opens a duplicate connection.
func (m *Manager) Initialize(ctx context.Context) (docdb.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked(ctx)
}

func (m *Manager) initializeLocked(ctx context.Context) (docdb.Database, error) {
	if m.state == StateClosed {
		return nil, domainerrors.NewConnection("connection manager is closed", nil)
	}
	if m.state == StateConnected && !m.stale {
		m.lastActivity = m.now()
		return m.client.Database(), nil
	}

	// A stale or closed client is released before reconnecting.
	if m.client != nil {
		if err := m.client.Close(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("failed to release stale client")
		}
		m.client = nil
	}

	m.state = StateConnecting
	client, err := m.factory(ctx)
	if err != nil {
		m.state = StateUninitialized
		return nil, domainerrors.NewConnection("failed to initialize database client", err)
	}

	m.client = client
	m.state = StateConnected
	m.stale = false
	m.lastActivity = m.now()
	m.opCount = 0

	if m.opts.PoolingEnabled && m.stopMonitor == nil {
		m.startMonitorLocked()
	}

	m.logger.Info().Bool("pooling", m.opts.PoolingEnabled).Msg("database connection established")
	return client.Database(), nil
}

// Handle returns the database handle, re-initializing when the connection
// was flagged stale. This is the sole mutation path for the metrics: every
// successful return increments the operation count and refreshes the
// activity timestamp.
func (m *Manager) Handle(ctx context.Context) (docdb.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected || m.stale {
		if _, err := m.initializeLocked(ctx); err != nil {
			return nil, err
		}
	}

	m.opCount++
	m.lastActivity = m.now()
	return m.client.Database(), nil
}

// Ping verifies the backend is reachable, re-initializing a stale
// connection first. Unlike Handle it does not count as an operation.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateConnected || m.stale {
		if _, err := m.initializeLocked(ctx); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	client := m.client
	m.mu.Unlock()
	return client.Ping(ctx)
}

// Metrics returns a snapshot of the connection activity.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := Metrics{
		Connected:      m.state == StateConnected && !m.stale,
		LastActivity:   m.lastActivity,
		OperationCount: m.opCount,
	}
	if !m.lastActivity.IsZero() {
		snapshot.IdleTime = m.now().Sub(m.lastActivity)
	}
	return snapshot
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// startMonitorLocked launches the idle monitor. The monitor only flags the
// connection as stale; it never closes it. The next Handle call observes
// the flag and reconnects lazily.
func (m *Manager) startMonitorLocked() {
	m.stopMonitor = make(chan struct{})
	stop := m.stopMonitor
	ticker := time.NewTicker(m.opts.IdleTimeout)

	m.monitorWG.Add(1)
	go func() {
		defer m.monitorWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.checkIdle()
			}
		}
	}()
}

func (m *Manager) checkIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.stale {
		return
	}
	idle := m.now().Sub(m.lastActivity)
	if idle > m.opts.MaxIdleTime {
		m.stale = true
		m.logger.Info().Dur("idleTime", idle).Msg("connection flagged stale, will reconnect on next use")
	}
}

// Close stops the idle monitor, releases the client, and moves the manager
// into the closed state. Closing twice is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	stop := m.stopMonitor
	m.stopMonitor = nil
	client := m.client
	m.client = nil
	m.state = StateClosed
	m.stale = false
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		m.monitorWG.Wait()
	}
	if client != nil {
		if err := client.Close(ctx); err != nil {
			return domainerrors.NewConnection("failed to close database client", err)
		}
	}
	m.logger.Info().Msg("database connection closed")
	return nil
}
