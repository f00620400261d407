package engine

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStopped   = errors.New("work queue stopped")
	ErrQueueFull = errors.New("work queue full")
	ErrNilTask   = errors.New("task has no run function")
)

// Config sizes the sync work queue.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0. 0 leaves tasks unbounded.
	DefaultTimeout time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Task is one queued unit of work. A task runs exactly once; callers that
// want another attempt enqueue it again.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Run records a finished task.
type Run struct {
	ID         string
	Name       string
	Worker     int
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed uint64
	Failed    uint64
	Dropped   uint64

	Recent []Run
}
