package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "msgblast/pkg/logx"
)

// Supervisor runs named goroutines under one cancelable context.
// Panics are recovered and recorded; Stop cancels and waits.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	started atomic.Uint64
	active  atomic.Int64

	errOnce  sync.Once
	firstErr atomic.Value
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*nameStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// Counters are operational signals, not a synchronization primitive.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// NameStats aggregates every goroutine started under one name.
type NameStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

type Snapshot struct {
	Counters   Counters    `json:"counters"`
	FirstError string      `json:"first_error,omitempty"`
	Names      []NameStats `json:"names"`
}

type nameStats struct {
	NameStats
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, stats: map[string]*nameStats{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for _, st := range s.stats {
		snap.Names = append(snap.Names, st.NameStats)
	}
	s.mu.Unlock()
	sort.Slice(snap.Names, func(i, j int) bool { return snap.Names[i].Name < snap.Names[j].Name })
	return snap
}

func (s *Supervisor) entry(name string) *nameStats {
	st := s.stats[name]
	if st == nil {
		st = &nameStats{NameStats{Name: name}}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) {
	s.mu.Lock()
	st := s.entry(name)
	st.Started++
	st.Active++
	if restart {
		st.Restarts++
	}
	st.LastStartAt = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) noteStop(name string, err error, pan any) {
	s.mu.Lock()
	st := s.entry(name)
	if st.Active > 0 {
		st.Active--
	}
	if err != nil {
		st.LastErr = err.Error()
	}
	if pan != nil {
		st.Panics++
		st.LastPanic = fmt.Sprint(pan)
	}
	s.mu.Unlock()
}

// run calls fn, converting a panic into an error.
func (s *Supervisor) run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error, pan any) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(ctx), nil
}

// Go starts fn in a goroutine. Returning context.Canceled is a clean stop.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.noteStart(name, false)
		err, pan := s.run(s.ctx, name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			if pan == nil {
				err = fmt.Errorf("%s: %w", name, err)
			}
			s.fail(err)
		} else {
			err = nil
		}
		s.noteStop(name, err, pan)
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int
}

// WithRestartBackoff sets the exponential backoff window.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts gives up after n restarts; n <= 0 means unlimited.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// GoRestart runs fn and restarts it after an error or panic until the
// context is canceled. A nil return stops the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.Go0(name+".restart", func(ctx context.Context) {
		backoff := cfg.minBackoff
		for restarts := 0; ; restarts++ {
			s.noteStart(name, restarts > 0)
			startedAt := time.Now()
			err, pan := s.run(ctx, name, fn)
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, nil, pan)
				return
			}
			s.noteStop(name, err, pan)

			if cfg.maxRestarts > 0 && restarts >= cfg.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))

			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	})
}

// Stop cancels the context and waits for every goroutine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returns or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}
