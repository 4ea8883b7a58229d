package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/fintrack-api/internal/domain"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
	"github.com/phrazzld/fintrack-api/internal/store"
	"github.com/phrazzld/fintrack-api/internal/task"
	"github.com/robfig/cron/v3"
)

// Built-in job names.
const (
	RecurringJobName = "recurring-transactions"
	SweeperJobName   = "stuck-import-sweeper"
)

// TaskTypeJobTrigger is the task type of manually triggered runs.
const TaskTypeJobTrigger = "job_trigger"

var (
	// ErrInvalidCron is returned for a schedule the cron parser rejects.
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrJobRunning is returned when a run is requested while one is in flight.
	ErrJobRunning = errors.New("job is already running")
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context, trigger domain.TriggerType) error

// Definition is the default configuration of a job, used when no persisted
// definition exists yet.
type Definition struct {
	Name        string
	Description string
	Cron        string
	Enabled     bool
	Job         Job
}

// parser accepts standard five-field expressions, six-field expressions
// with a leading seconds field, and descriptors such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron reports whether spec is a schedule the scheduler accepts.
func ValidateCron(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, spec, err)
	}
	return nil
}

// Scheduler binds named jobs to cron triggers. It keeps at most one timer
// per job name and never runs two instances of the same job at once.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]Job
	entries map[string]cron.EntryID
	running map[string]bool

	tx     store.Transactor
	runner task.Submitter
	now    func() time.Time
	logger *slog.Logger
}

// NewScheduler creates a stopped scheduler. Manual triggers are submitted
// to runner.
func NewScheduler(tx store.Transactor, runner task.Submitter, log *slog.Logger) *Scheduler {
	log = log.With("component", "job_scheduler")
	cronLog := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]bool),
		tx:      tx,
		runner:  runner,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log,
	}
}

// Register binds job to spec under name, replacing any existing binding.
// A disabled job is known (it can be triggered manually) but gets no timer.
// An invalid spec is logged and returned as ErrInvalidCron; the previous
// timer, if any, is left in place.
func (s *Scheduler) Register(name string, job Job, spec string, enabled bool) error {
	schedule, err := parser.Parse(spec)
	if err != nil {
		s.logger.Error("rejected invalid cron expression",
			"job_name", name,
			"cron", spec,
			"error", err)
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	s.jobs[name] = job
	if enabled {
		s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
			s.execute(context.Background(), name, domain.TriggerScheduled)
		}))
	}

	s.logger.Info("job registered", "job_name", name, "cron", spec, "enabled", enabled)
	return nil
}

// Reschedule persists a new schedule for a registered job and re-applies
// it. An in-flight run is not interrupted.
func (s *Scheduler) Reschedule(ctx context.Context, name, spec string, enabled bool) (*domain.JobDefinition, error) {
	if err := ValidateCron(spec); err != nil {
		s.logger.Error("rejected invalid cron expression", "job_name", name, "cron", spec)
		return nil, err
	}

	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrJobNotFound
	}

	repos := s.tx.Repos()
	if err := repos.Jobs.UpdateSchedule(ctx, name, spec, enabled); err != nil {
		return nil, err
	}
	if err := s.Register(name, job, spec, enabled); err != nil {
		return nil, err
	}
	return repos.Jobs.GetDefinition(ctx, name)
}

// Trigger runs the named job immediately on the task runner. The job's own
// failures are logged, not returned; only an unknown job or a rejected
// submission is reported.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return store.ErrJobNotFound
	}

	payload := []byte(fmt.Sprintf(`{"job_name":%q}`, name))
	t := task.NewFuncTask(TaskTypeJobTrigger, payload, func(taskCtx context.Context) error {
		s.execute(taskCtx, name, domain.TriggerManual)
		return nil
	})
	if err := s.runner.Submit(ctx, t); err != nil {
		return fmt.Errorf("failed to submit job %s: %w", name, err)
	}
	s.logger.Info("job triggered manually", "job_name", name, "task_id", t.ID())
	return nil
}

// RunNow runs the named job synchronously in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string, trigger domain.TriggerType) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return store.ErrJobNotFound
	}
	return s.execute(ctx, name, trigger)
}

func (s *Scheduler) execute(ctx context.Context, name string, trigger domain.TriggerType) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return store.ErrJobNotFound
	}
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("skipping run, previous run still in progress", "job_name", name, "trigger", trigger)
		return ErrJobRunning
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	log := s.logger.With("job_name", name, "trigger", trigger)
	ctx = logger.WithLogger(ctx, log)

	if err := s.tx.Repos().Jobs.UpdateLastRun(ctx, name, s.now()); err != nil && !store.IsNotFoundError(err) {
		log.Warn("failed to record last run", "error", err)
	}

	log.Info("job run started")
	err := runJob(ctx, job, trigger)
	if err != nil {
		log.Error("job run failed", "error", err)
		return err
	}
	log.Info("job run finished")
	return nil
}

func runJob(ctx context.Context, job Job, trigger domain.TriggerType) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx, trigger)
}

// Bootstrap loads persisted job definitions, creating the missing ones from
// defaults, and registers each with its persisted schedule. A definition
// with an invalid schedule is logged and left unscheduled.
func (s *Scheduler) Bootstrap(ctx context.Context, defaults []Definition) error {
	repos := s.tx.Repos()
	for _, d := range defaults {
		def, err := repos.Jobs.GetDefinition(ctx, d.Name)
		if errors.Is(err, store.ErrJobNotFound) {
			def = &domain.JobDefinition{
				Name:        d.Name,
				Description: d.Description,
				Cron:        d.Cron,
				Enabled:     d.Enabled,
			}
			err = repos.Jobs.CreateDefinition(ctx, def)
		}
		if err != nil {
			return fmt.Errorf("failed to load job definition %s: %w", d.Name, err)
		}

		if err := s.Register(d.Name, d.Job, def.Cron, def.Enabled); err != nil {
			s.logger.Error("job left unscheduled", "job_name", d.Name, "error", err)
			// Keep it triggerable by hand.
			s.mu.Lock()
			s.jobs[d.Name] = d.Job
			s.mu.Unlock()
		}
	}
	return nil
}

// NextRun returns the next scheduled run of the named job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Scheduled returns the names of jobs that currently have a timer.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins firing timers.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("job scheduler started")
}

// Stop halts timers and waits for running scheduled jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("job scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
