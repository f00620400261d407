// Package supervisor runs the bot's named background loops under one context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second

	// a loop that stayed up this long restarts from the minimum backoff
	healthyRun = 30 * time.Second
)

// Supervisor tracks every loop it starts. Panics are recovered, and Go can
// cancel the whole group on the first failure.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	idle     chan struct{}

	mu    sync.Mutex
	err   error
	loops map[string]*loop
}

type loop struct {
	active   int
	restarts uint64
	lastErr  string
}

// LoopStatus describes one named loop.
type LoopStatus struct {
	Name     string
	Running  bool
	Restarts uint64
	LastErr  string
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the group context when a Go loop fails.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		idle:   make(chan struct{}),
		loops:  map[string]*loop{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every loop to stop and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure reported by a Go loop.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Status lists every loop started so far, sorted by name.
func (s *Supervisor) Status() []LoopStatus {
	s.mu.Lock()
	out := make([]LoopStatus, 0, len(s.loops))
	for name, l := range s.loops {
		out = append(out, LoopStatus{Name: name, Running: l.active > 0, Restarts: l.restarts, LastErr: l.lastErr})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Running lists the names of loops that have not returned yet.
func (s *Supervisor) Running() []string {
	var out []string
	for _, st := range s.Status() {
		if st.Running {
			out = append(out, st.Name)
		}
	}
	return out
}

func (s *Supervisor) Restarts(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loops[name]; ok {
		return l.restarts
	}
	return 0
}

func (s *Supervisor) entry(name string) *loop {
	l, ok := s.loops[name]
	if !ok {
		l = &loop{}
		s.loops[name] = l
	}
	return l
}

func (s *Supervisor) enter(name string) {
	s.mu.Lock()
	s.entry(name).active++
	s.mu.Unlock()
}

func (s *Supervisor) leave(name string) {
	s.mu.Lock()
	s.entry(name).active--
	s.mu.Unlock()
}

// Go runs fn once in its own goroutine. A panic counts as a failure.
// context.Canceled is a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.enter(name)
	go func() {
		defer s.wg.Done()
		defer s.leave(name)

		err := s.guard(name, fn)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		s.mu.Lock()
		s.entry(name).lastErr = err.Error()
		if s.err == nil {
			s.err = fmt.Errorf("%s: %w", name, err)
		}
		s.mu.Unlock()
		if !s.cancelOnErr {
			s.log.Warn("loop failed", logx.String("name", name), logx.Err(err))
			return
		}
		s.log.Error("loop failed, stopping", logx.String("name", name), logx.Err(err))
		s.cancel()
	}()
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max time.Duration
}

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// GoRestart keeps fn running: an error or panic restarts it after a jittered
// exponential delay. A nil return or a canceled context ends the loop. A
// restarting loop never cancels the group.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: defaultMinBackoff, max: defaultMaxBackoff}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.Go(name, func(ctx context.Context) error {
		delay := p.min
		for {
			began := time.Now()
			err := s.guard(name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if time.Since(began) >= healthyRun {
				delay = p.min
			}

			s.mu.Lock()
			l := s.entry(name)
			l.restarts++
			l.lastErr = err.Error()
			n := l.restarts
			s.mu.Unlock()

			wait := jittered(delay)
			s.log.Warn("loop restarting", logx.String("name", name), logx.Uint64("restart", n), logx.Duration("in", wait), logx.Err(err))
			if !sleep(ctx, wait) {
				return nil
			}
			delay = min(delay*2, p.max)
		}
	})
}

func (s *Supervisor) guard(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("loop panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// jittered adds up to 20% to d.
func jittered(d time.Duration) time.Duration {
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(time.Now().UnixNano() % (j + 1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop cancels the group and waits for every loop to return or ctx to end.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}
