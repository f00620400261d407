package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	rtsup "github.com/DeLoWaN/openfront-discord-bot/internal/runtime/supervisor"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// Service is a bounded FIFO queue drained by a fixed pool of workers. The pool
// size caps how many sync passes talk to the upstream API at once.
type Service struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	q       chan queuedTask
	stopCh  chan struct{}
	sup     *rtsup.Supervisor
	running bool

	rmu    sync.Mutex
	recent []Run

	seq       atomic.Uint64
	inFlight  atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

type queuedTask struct {
	task       Task
	timeout    time.Duration
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log}
}

// Start launches the workers under their own supervisor. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.running = true

	q, stopCh := s.q, s.stopCh
	for i := range s.cfg.Workers {
		s.sup.Go("sync.worker."+strconv.Itoa(i), func(ctx context.Context) error {
			s.worker(ctx, stopCh, q, i)
			return nil
		})
	}
	s.log.Info("work queue started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop closes the queue to new work and waits for running tasks until ctx
// ends. Tasks still waiting in the buffer are dropped; the next scheduler
// cycle queues their guilds again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	sup, pending := s.sup, len(s.q)
	s.mu.Unlock()

	if pending > 0 {
		s.dropped.Add(uint64(pending))
		s.log.Info("work queue stopping", logx.Int("discarded", pending))
	}
	if err := sup.Stop(ctx); errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("work queue stop timed out", logx.Int("in_flight", int(s.inFlight.Load())), logx.Err(err))
		return err
	}
	return nil
}

func (s *Service) admit(t Task) (queuedTask, chan queuedTask, <-chan struct{}, error) {
	if t.Run == nil {
		return queuedTask{}, nil, nil, ErrNilTask
	}
	s.mu.Lock()
	running, q, stopCh := s.running, s.q, s.stopCh
	s.mu.Unlock()
	if !running {
		return queuedTask{}, nil, nil, ErrStopped
	}
	if t.ID == "" {
		t.ID = t.Name + "-" + strconv.FormatUint(s.seq.Add(1), 10)
	}
	qt := queuedTask{task: t, timeout: t.Timeout, enqueuedAt: time.Now()}
	if qt.timeout <= 0 {
		qt.timeout = s.cfg.DefaultTimeout
	}
	return qt, q, stopCh, nil
}

// Enqueue never blocks. A full buffer returns ErrQueueFull.
func (s *Service) Enqueue(t Task) (string, error) {
	qt, q, _, err := s.admit(t)
	if err != nil {
		return "", err
	}
	select {
	case q <- qt:
		return qt.task.ID, nil
	default:
		s.dropped.Add(1)
		s.log.Warn("work queue full, task dropped", logx.String("task", qt.task.Name), logx.Int("cap", cap(q)))
		return "", ErrQueueFull
	}
}

// EnqueueWait blocks while the buffer is full, until ctx ends or the queue stops.
func (s *Service) EnqueueWait(ctx context.Context, t Task) (string, error) {
	qt, q, stopCh, err := s.admit(t)
	if err != nil {
		return "", err
	}
	select {
	case q <- qt:
		return qt.task.ID, nil
	case <-stopCh:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Snapshot reports queue depth, counters and the most recent finished runs.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running, Workers: s.cfg.Workers}
	if s.q != nil {
		snap.QueueLen, snap.QueueCap = len(s.q), cap(s.q)
	}
	s.mu.Unlock()

	snap.InFlight = int(s.inFlight.Load())
	snap.Completed = s.completed.Load()
	snap.Failed = s.failed.Load()
	snap.Dropped = s.dropped.Load()

	s.rmu.Lock()
	snap.Recent = append([]Run(nil), s.recent...)
	s.rmu.Unlock()
	return snap
}

func (s *Service) record(r Run) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	s.recent = append(s.recent, r)
	if over := len(s.recent) - s.cfg.HistorySize; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
}
