package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask, idx int) {
	for {
		// stop wins over a non-empty queue
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.exec(ctx, qt, idx)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) exec(ctx context.Context, qt queuedTask, idx int) {
	start := time.Now()
	r := Run{
		ID:         qt.task.ID,
		Name:       qt.task.Name,
		Worker:     idx,
		Started:    start,
		QueueDelay: max(start.Sub(qt.enqueuedAt), 0),
	}
	log := s.log.With(logx.String("task", qt.task.Name), logx.Int("worker", idx))

	err := safeRun(ctx, qt, log)
	r.Duration = time.Since(start)
	if err != nil {
		r.Error = err.Error()
		s.record(r)
		s.failed.Add(1)
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", r.Duration))
		return
	}
	s.record(r)
	s.completed.Add(1)
	log.Debug("task done", logx.Duration("queued", r.QueueDelay), logx.Duration("dur", r.Duration))
}

// safeRun turns a panic into an error so one bad task cannot take a worker down.
func safeRun(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}
