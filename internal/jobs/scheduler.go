package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"menurec/internal/logging"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a five-field cron expression and returns its next run after from
func ValidateSchedule(spec string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}

type registeredJob struct {
	name     string
	spec     string
	job      Job
	cronJob  gocron.Job
	lastRun  time.Time
	lastErr  error
	duration time.Duration
}

// JobScheduler runs maintenance jobs on cron schedules
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]*registeredJob
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	running   bool
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]*registeredJob),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job under a cron schedule. A run still in progress when the
// next tick arrives is not overlapped.
func (s *JobScheduler) Register(name, spec string, job Job) error {
	if _, err := ValidateSchedule(spec, time.Now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	rj := &registeredJob{name: name, spec: spec, job: job}
	cronJob, err := s.scheduler.NewJob(
		gocron.CronJob(spec, false),
		gocron.NewTask(func() {
			s.runJob(rj)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", name, err)
	}

	rj.cronJob = cronJob
	s.jobs[name] = rj
	log.Printf("✅ [SCHEDULER] Registered job: %s (cron: %s)", name, spec)
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Started with %d jobs", len(s.jobs))
}

// runJob executes a job and records its outcome
func (s *JobScheduler) runJob(rj *registeredJob) error {
	logger := logging.WithJob(rj.name, uuid.New().String())

	start := time.Now()
	err := rj.job.Run(s.ctx)
	elapsed := time.Since(start)

	if err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed after %v: %v", rj.name, elapsed, err)
	} else {
		logger.Debug("job completed", "elapsed_ms", elapsed.Milliseconds())
	}

	s.mu.Lock()
	rj.lastRun = start
	rj.lastErr = err
	rj.duration = elapsed
	s.mu.Unlock()
	return err
}

// Stop cancels running jobs and shuts the scheduler down
func (s *JobScheduler) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
	return nil
}

// RunNow runs a job synchronously, outside its schedule
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	rj, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %q not found", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return s.runJob(rj)
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string        `json:"name"`
	Schedule    string        `json:"schedule"`
	NextRunTime time.Time     `json:"next_run_time"`
	LastRunTime time.Time     `json:"last_run_time,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Status returns the status of all jobs
func (s *JobScheduler) Status() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus, len(s.jobs))
	for name, rj := range s.jobs {
		js := JobStatus{
			Name:        name,
			Schedule:    rj.spec,
			LastRunTime: rj.lastRun,
			Duration:    rj.duration,
		}
		if next, err := ValidateSchedule(rj.spec, time.Now()); err == nil {
			js.NextRunTime = next
		}
		if rj.lastErr != nil {
			js.LastError = rj.lastErr.Error()
		}
		status[name] = js
	}
	return status
}
