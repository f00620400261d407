package badge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	DefaultRateLimitDelay = 5 * time.Second
	reason                = "Updating win tier role"
)

// Mutator is the platform capability the worker drives.
type Mutator interface {
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
}

// Job asks the worker to move Member onto the tier matching Wins.
type Job struct {
	GuildID    string
	Member     transport.Member
	Thresholds []Threshold
	Wins       int
}

// Result carries the target role id (empty for none) or the failure.
type Result struct {
	RoleID string
	Calls  int
	Err    error
}

type request struct {
	job  Job
	resp chan Result
}

var ErrQueueClosed = errors.New("badge queue closed")

// Queue is a FIFO of role jobs drained by one worker.
type Queue struct {
	m   Mutator
	log logx.Logger
	in  chan request
	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewQueue(m Mutator, size int, log logx.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{m: m, log: log.With(logx.String("comp", "badge")), in: make(chan request, size), sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit enqueues job and waits for its own result only.
func (q *Queue) Submit(ctx context.Context, job Job) (Result, error) {
	r := request{job: job, resp: make(chan Result, 1)}
	select {
	case q.in <- r:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-r.resp:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run is the single worker loop. It returns when ctx ends.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-q.in:
			r.resp <- q.handle(ctx, r.job)
		}
	}
}

func (q *Queue) handle(ctx context.Context, job Job) Result {
	res, held := q.apply(ctx, job)
	rl, limited := transport.AsRateLimit(res.Err)
	if !limited {
		return res
	}
	delay := rl.RetryAfter
	if delay <= 0 {
		delay = DefaultRateLimitDelay
	}
	delay += time.Second
	q.log.Warn("role update rate limited; backing off", logx.Duration("delay", delay), logx.String("member", job.Member.Label()))
	if err := q.sleep(ctx, delay); err != nil {
		return Result{Err: err}
	}
	calls := res.Calls
	job.Member.RoleIDs = held
	res, _ = q.apply(ctx, job)
	res.Calls += calls
	if res.Err != nil {
		q.log.Warn("role update failed after backoff", logx.String("member", job.Member.Label()), logx.Err(res.Err))
	}
	return res
}

// apply executes the plan and returns the roles held afterwards. A rate limit
// aborts at once; other failures are collected so the remaining calls still run.
func (q *Queue) apply(ctx context.Context, job Job) (Result, []string) {
	plan := Compute(job.Thresholds, job.Member.RoleIDs, job.Wins)
	res := Result{RoleID: plan.Target}
	held := append([]string(nil), job.Member.RoleIDs...)
	if plan.Noop() {
		return res, held
	}
	var errs []error
	for _, id := range plan.Remove {
		res.Calls++
		if err := q.m.RemoveRole(ctx, job.GuildID, job.Member.ID, id, reason); err != nil {
			if _, ok := transport.AsRateLimit(err); ok {
				res.Err = err
				return res, held
			}
			q.log.Warn("failed removing role", logx.String("member", job.Member.Label()), logx.String("role", id), logx.Err(err))
			errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
			continue
		}
		held = without(held, id)
	}
	if plan.Add != "" {
		res.Calls++
		if err := q.m.AddRole(ctx, job.GuildID, job.Member.ID, plan.Add, reason); err != nil {
			if _, ok := transport.AsRateLimit(err); ok {
				res.Err = err
				return res, held
			}
			q.log.Warn("failed adding role", logx.String("member", job.Member.Label()), logx.String("role", plan.Add), logx.Err(err))
			errs = append(errs, fmt.Errorf("add %s: %w", plan.Add, err))
		} else {
			held = append(held, plan.Add)
			q.log.Info("assigned role", logx.String("member", job.Member.Label()), logx.String("role", plan.Add), logx.Int("wins", job.Wins))
		}
	}
	res.Err = errors.Join(errs...)
	return res, held
}

func without(ids []string, drop string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
