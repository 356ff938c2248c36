// Package polling keeps a list-valued resource fresh: it fetches on start,
// revalidates on a ticker and lets callers force a refetch. Only the most
// recent fetch may change the state.
package polling

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"market-dashboard/internal/apiclient"
)

const (
	// DefaultInterval is the revalidation period used by DefaultOptions.
	DefaultInterval = 60 * time.Second

	// DefaultFallbackHeader is the response header that marks substituted data.
	DefaultFallbackHeader = "x-fallback"
)

// State is a point-in-time view of a Source.
type State[T any] struct {
	Data          []T
	Loading       bool
	Error         string
	UsingFallback bool
	// LastUpdatedAt is zero until data has been seeded or fetched.
	LastUpdatedAt time.Time
}

// Options configures a Source.
type Options[T any] struct {
	// Seed is the initial data. A non-nil Seed implies Seeded.
	Seed []T
	// Seeded marks the source as populated, which skips the fetch on Start.
	Seeded bool
	// Interval between automatic refetches. Zero or negative disables the ticker.
	Interval time.Duration
	// Immediate fetches once on Start when the source is not seeded.
	Immediate bool
	// FallbackHeader names the header whose value "true" sets UsingFallback.
	FallbackHeader string
	// Prepare, when set, adjusts a freshly fetched payload in place before it
	// is committed.
	Prepare func([]T)
	Logger  *slog.Logger
	// OnChange receives a snapshot after every state change. It runs outside
	// the source's lock and may call back into the source.
	OnChange func(State[T])
}

// DefaultOptions returns Immediate=true, Interval=DefaultInterval and the
// default fallback header.
func DefaultOptions[T any]() Options[T] {
	return Options[T]{
		Interval:       DefaultInterval,
		Immediate:      true,
		FallbackHeader: DefaultFallbackHeader,
	}
}

// Source is a polled collection of T. All methods are safe for concurrent use.
type Source[T any] struct {
	client *apiclient.Client
	target apiclient.Target
	opts   Options[T]
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State[T]
	seeded     bool
	generation uint64
	cancel     context.CancelFunc // in-flight call, nil when idle
	stopRun    context.CancelFunc // Start's goroutines
	started    bool
	closed     bool
}

// New creates a Source that fetches target with client. It does not start
// fetching until Start or Refetch is called.
func New[T any](client *apiclient.Client, target apiclient.Target, opts Options[T]) *Source[T] {
	if opts.FallbackHeader == "" {
		opts.FallbackHeader = DefaultFallbackHeader
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Source[T]{
		client: client,
		target: target,
		opts:   opts,
		logger: logger.With(slog.String("component", "polling")),
		now:    time.Now,
	}
	if opts.Seeded || opts.Seed != nil {
		s.seeded = true
		s.state.Data = cloneSlice(opts.Seed)
		s.state.LastUpdatedAt = s.now()
	}
	return s
}

// Start launches the initial fetch (unseeded sources with Immediate set) and
// the revalidation ticker. Both stop when ctx ends or Close is called.
// Calling Start more than once has no effect.
func (s *Source[T]) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, stop := context.WithCancel(ctx)
	s.stopRun = stop
	fetchNow := !s.seeded && s.opts.Immediate
	s.mu.Unlock()

	if fetchNow {
		go s.Refetch(runCtx)
	}
	if s.opts.Interval > 0 {
		go s.revalidate(runCtx, s.opts.Interval)
	}
}

func (s *Source[T]) revalidate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refetch(ctx)
		}
	}
}

// Refetch supersedes any in-flight fetch and performs a new one. The returned
// outcome is the call's result; a superseded call reports a canceled outcome
// and leaves the state untouched.
func (s *Source[T]) Refetch(ctx context.Context) apiclient.Outcome[[]T] {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apiclient.Canceled[[]T]()
	}
	if s.cancel != nil {
		s.cancel()
		s.logger.Debug("superseded in-flight fetch", slog.Uint64("generation", s.generation))
	}
	s.generation++
	gen := s.generation
	callCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state.Loading = true
	s.state.Error = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	out := apiclient.Do[[]T](callCtx, s.client, s.target)
	cancel()
	if out.Success && s.opts.Prepare != nil {
		s.opts.Prepare(out.Payload)
	}

	s.mu.Lock()
	if gen != s.generation || s.closed {
		s.mu.Unlock()
		return apiclient.Canceled[[]T]()
	}
	s.cancel = nil
	if out.Success {
		s.state.Data = out.Payload
		s.state.UsingFallback = strings.EqualFold(out.Header.Get(s.opts.FallbackHeader), "true")
		s.state.LastUpdatedAt = s.now()
	} else {
		s.state.Error = out.ErrorMessage
	}
	s.state.Loading = false
	snap = s.snapshotLocked()
	s.mu.Unlock()

	if out.Success {
		s.logger.Debug("data refreshed",
			slog.Int("records", len(out.Payload)),
			slog.Bool("using_fallback", snap.UsingFallback))
	} else if out.Kind != apiclient.KindCanceled {
		s.logger.Warn("refresh failed, keeping previous data",
			slog.String("error", out.ErrorMessage),
			slog.Int("records", len(snap.Data)))
	}
	s.notify(snap)
	return out
}

// Snapshot returns a copy of the current state.
func (s *Source[T]) Snapshot() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close cancels the in-flight fetch, clears Loading and stops revalidation.
// Results that arrive afterwards are discarded. Close is idempotent.
func (s *Source[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.state.Loading = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stopRun != nil {
		s.stopRun()
	}
}

func (s *Source[T]) snapshotLocked() State[T] {
	snap := s.state
	snap.Data = cloneSlice(s.state.Data)
	return snap
}

func (s *Source[T]) notify(snap State[T]) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
