// Package scheduler runs recurring lifecycle jobs, such as the scheduled
// snapshot and the retention sweep, on cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"

	"github.com/Sandiman184/e-raport/internal/logger"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StateFile is written next to the snapshots when Options.StateDir is set.
const StateFile = "schedules.json"

// Runner is the unit of work a job executes.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Job is a registered recurring task and its last known outcome.
type Job struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"` // cron, @descriptor or a duration like "24h"
	Status    Status     `json:"status"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	runner Runner
	cronID cron.EntryID
}

type Options struct {
	Logger     *logger.Logger
	StateDir   string
	Retries    int
	RetryDelay time.Duration
	Now        func() time.Time
}

type Scheduler struct {
	cron *cron.Cron
	jobs map[string]*Job
	mu   sync.RWMutex
	opts Options
	ctx  context.Context
	stop context.CancelFunc
}

func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]*Job),
		opts: opts,
		ctx:  ctx,
		stop: cancel,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and cancels running jobs. The returned context
// is done once every running job has returned.
func (s *Scheduler) Stop() context.Context {
	s.stop()
	return s.cron.Stop()
}

// NormalizeSpec turns a bare duration into an @every expression.
func NormalizeSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	if !strings.HasPrefix(spec, "@") && strings.Count(spec, " ") < 4 {
		if _, err := time.ParseDuration(spec); err == nil {
			return "@every " + spec
		}
	}
	return spec
}

func (s *Scheduler) Add(name, spec string, r Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}

	id, err := s.cron.AddFunc(NormalizeSpec(spec), func() {
		_ = s.execute(s.ctx, name)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.jobs[name] = &Job{
		Name:     name,
		Schedule: spec,
		Status:   StatusPending,
		runner:   r,
		cronID:   id,
	}
	return nil
}

func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	s.cron.Remove(job.cronID)
	delete(s.jobs, name)
	return nil
}

// Jobs returns copies of the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		if entry := s.cron.Entry(j.cronID); !entry.Next.IsZero() {
			next := entry.Next
			cp.NextRun = &next
		}
		list = append(list, cp)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].Name < list[k].Name })
	return list
}

// RunNow executes a job synchronously, outside its cron schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	return s.execute(ctx, name)
}

var ErrAlreadyRunning = errors.New("job is already running")

func (s *Scheduler) execute(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job not found: %s", name)
	}
	if job.Status == StatusRunning {
		s.mu.Unlock()
		s.opts.Logger.Warn("Skipping job: already running", "job", name)
		return ErrAlreadyRunning
	}
	job.Status = StatusRunning
	now := s.opts.Now()
	job.LastRun = &now
	runner := job.runner
	s.mu.Unlock()

	l := s.opts.Logger.With("job", name)
	ctx = logger.WithContext(ctx, l)

	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			l.Info("Retrying job", "attempt", attempt, "delay", s.opts.RetryDelay)
			select {
			case <-ctx.Done():
				err = errors.Join(err, ctx.Err())
				attempt = s.opts.Retries + 1
				continue
			case <-time.After(s.opts.RetryDelay):
			}
		}
		if err = runner.Run(ctx); err == nil {
			break
		}
	}

	s.mu.Lock()
	if err != nil {
		job.Status = StatusFailed
		job.LastError = err.Error()
		l.Error("Scheduled job failed", "error", err)
	} else {
		job.Status = StatusSuccess
		job.LastError = ""
		l.Info("Scheduled job succeeded")
	}
	s.mu.Unlock()

	if serr := s.Save(); serr != nil {
		l.Warn("Could not persist schedule state", "error", serr)
	}
	return err
}

// Save writes job outcomes to the state file. A no-op without StateDir.
func (s *Scheduler) Save() error {
	if s.opts.StateDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.Jobs(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.opts.StateDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.opts.StateDir, StateFile), data, 0o600)
}

// Load restores last-run information for jobs that are already registered.
func (s *Scheduler) Load() error {
	if s.opts.StateDir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.opts.StateDir, StateFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var saved []Job
	if err := json.Unmarshal(data, &saved); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sj := range saved {
		if j, ok := s.jobs[sj.Name]; ok {
			j.LastRun = sj.LastRun
			j.LastError = sj.LastError
			if sj.Status != StatusRunning {
				j.Status = sj.Status
			}
		}
	}
	return nil
}
