// Package lifecycle owns process-wide startup and shutdown ordering
// for shared resources: the database, the background expiry sweeper,
// and the shared outbound HTTP client.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Database is the persistence boundary the manager brings up first
// and tears down last.
type Database interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// Task is a cancellable background unit of work: Run loops until its
// context is cancelled, Wait blocks until Run has fully unwound.
type Task interface {
	Run(ctx context.Context)
	Wait() error
}

// Closer releases the shared outbound HTTP client.
type Closer interface {
	Close()
}

type Options struct {
	Logger   log.Logger
	Database Database
	Sweeper  Task
	Client   Closer
}

// Manager drives Created -> Starting -> Running -> Stopping -> Stopped.
// Start and Stop are each effective exactly once.
type Manager struct {
	lg log.Logger

	db      Database
	sweeper Task
	client  Closer

	state  atomic.Int32
	cancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error
}

func New(opts Options) *Manager {
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	return &Manager{
		lg:      lg.With("component", "lifecycle"),
		db:      opts.Database,
		sweeper: opts.Sweeper,
		client:  opts.Client,
	}
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Ready reports nil only while the manager is Running; wired into the
// readiness probe so load balancers stop routing during shutdown.
func (m *Manager) Ready(context.Context) error {
	if s := m.State(); s != StateRunning {
		return xerrors.Newf("lifecycle state is %s", s)
	}
	return nil
}

// Start initializes the database and launches the sweeper. A database
// failure is fatal: the manager lands in Stopped and the process must
// not accept traffic.
func (m *Manager) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return xerrors.Newf("cannot start from state %s", m.State())
	}

	if err := m.db.Setup(ctx); err != nil {
		m.state.Store(int32(StateStopped))
		return xerrors.Wrap(err, "database setup")
	}

	// the sweeper outlives the startup call; its lifetime is bound to
	// Stop, not to the caller's context
	taskCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.sweeper.Run(taskCtx)

	m.state.Store(int32(StateRunning))
	m.lg.Info(ctx, "lifecycle running")
	return nil
}

// Stop runs the shutdown sequence in strict order: cancel the sweeper,
// await its termination, close the shared HTTP client, tear down the
// database. Every step runs even when an earlier one fails; only the
// sweeper's expected cancellation is swallowed. Safe to call more than
// once; later calls return the first outcome.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { m.stopErr = m.stop(ctx) })
	return m.stopErr
}

func (m *Manager) stop(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		// Start never completed; nothing was brought up
		m.state.Store(int32(StateStopped))
		return nil
	}
	defer m.state.Store(int32(StateStopped))

	m.lg.Info(ctx, "lifecycle stopping")

	var errs []error

	m.cancel()
	if err := m.sweeper.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		// anything but the expected cancellation is surfaced, but it
		// never blocks the remaining steps
		m.lg.Error(ctx, err, "sweeper terminated abnormally")
		errs = append(errs, xerrors.Wrap(err, "sweeper shutdown"))
	}

	m.client.Close()

	if err := m.db.Teardown(ctx); err != nil {
		m.lg.Error(ctx, err, "database teardown failed")
		errs = append(errs, xerrors.Wrap(err, "database teardown"))
	}

	m.lg.Info(ctx, "lifecycle stopped")
	return errors.Join(errs...)
}
