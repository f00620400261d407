package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// SecondOptional accepts both 5-field and 6-field specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Timezone string // IANA name; empty means local time
}

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	timeout  time.Duration
	run      func(ctx context.Context) error

	id      cron.EntryID
	runs    uint64
	lastErr string
	lastDur time.Duration
}

// ScheduleInfo describes one registered job.
type ScheduleInfo struct {
	Name     string
	Spec     string
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	LastErr  string
	LastTook time.Duration
}

type Service struct {
	log logx.Logger
	loc *time.Location

	mu   sync.Mutex
	ctx  context.Context
	c    *cron.Cron
	jobs map[string]*job
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, ctx: context.Background(), jobs: map[string]*job{}}
	s.loc = location(cfg.Timezone, log)
	return s
}

// Add registers a uniquely named job. spec goes through ToCron first. Jobs
// added after Start are scheduled right away.
func (s *Service) Add(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name required")
	}
	if run == nil {
		return fmt.Errorf("job %s: run function required", name)
	}
	expr, err := ToCron(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %s: parse %q: %w", name, expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: expr, schedule: sched, timeout: timeout, run: run}
	s.jobs[name] = j
	if s.c != nil {
		j.id = s.c.Schedule(sched, s.wrap(j))
	}
	return nil
}

func (s *Service) wrap(j *job) cron.Job {
	return cron.FuncJob(func() { s.exec(j) })
}

func (s *Service) exec(j *job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.run(ctx)
	took := time.Since(start)

	s.mu.Lock()
	j.runs++
	j.lastDur = took
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("scheduled job failed", logx.String("job", j.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done", logx.String("job", j.name), logx.Duration("took", took))
}

// Start schedules every registered job. Jobs see ctx, so canceling it aborts
// a sweep in progress.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	cl := cronLogger{s.log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, j := range s.jobs {
		j.id = s.c.Schedule(j.schedule, s.wrap(j))
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts the cron loop and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with a job still running")
	}
}

func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := ScheduleInfo{Name: j.name, Spec: j.spec, Runs: j.runs, LastErr: j.lastErr, LastTook: j.lastDur}
		if s.c != nil && j.id != 0 {
			e := s.c.Entry(j.id)
			info.Next, info.Prev = e.Next, e.Prev
		} else {
			info.Next = j.schedule.Next(time.Now().In(s.loc))
		}
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func location(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("unknown timezone, using local time", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger feeds robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron "+msg, fields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron "+msg, append(fields(kv), logx.Err(err))...)
}

func fields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
