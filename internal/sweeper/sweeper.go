// Package sweeper runs the background task that purges expired cache,
// lock, and dead-link rows on a fixed interval.
package sweeper

import (
	"context"
	"time"

	"github.com/dydhzo/wastream/internal/log"
)

// Cleaner is the storage operation a sweep pass invokes. Implemented
// by store.Store.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (locks, links, cache int64, err error)
}

type Options struct {
	Logger   log.Logger
	Cleaner  Cleaner
	Interval time.Duration

	// OnSweep, when set, observes each successful pass (metrics).
	OnSweep func(locks, links, cache int64)

	// OnError, when set, observes each failed pass.
	OnError func()
}

// Sweeper is created once per process, started by the lifecycle
// manager, and cooperatively cancelled at shutdown.
type Sweeper struct {
	lg       log.Logger
	cleaner  Cleaner
	interval time.Duration
	onSweep  func(locks, links, cache int64)
	onError  func()

	done chan struct{}
	err  error
}

func New(opts Options) *Sweeper {
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		lg:       lg.With("component", "sweeper"),
		cleaner:  opts.Cleaner,
		interval: interval,
		onSweep:  opts.OnSweep,
		onError:  opts.OnError,
		done:     make(chan struct{}),
	}
}

// Run loops until ctx is cancelled. Cancellation is observed at the
// interval wait, never mid-pass, so a pass that started completes and
// no partial pass runs after cancel. Per-pass errors are logged and
// the loop continues; only cancellation stops it.
//
// Run is meant to be launched on its own goroutine; Wait blocks until
// it has fully unwound.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	s.lg.Info(ctx, "sweeper started", "interval", s.interval)

	// purge immediately so rows expired while the process was down do
	// not linger a full interval
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			s.lg.Info(ctx, "sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	locks, links, cache, err := s.cleaner.CleanupExpired(ctx)
	if err != nil {
		s.lg.Error(ctx, err, "cleanup pass failed")
		if s.onError != nil {
			s.onError()
		}
		return
	}
	if locks+links+cache > 0 {
		s.lg.Info(ctx, "purged expired rows",
			"locks", locks, "dead_links", links, "cache_entries", cache)
	}
	if s.onSweep != nil {
		s.onSweep(locks, links, cache)
	}
}

// Wait blocks until Run has returned and reports why it stopped.
// context.Canceled is the expected outcome of a clean shutdown.
func (s *Sweeper) Wait() error {
	<-s.done
	return s.err
}
