package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"ambia/internal/config"
	"ambia/internal/logging"
	"ambia/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned by RunNow for an unregistered job name
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned by RunNow while the job is already running
	ErrJobRunning = errors.New("job already running")
)

// Job is one periodic engine cycle
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule is either a fixed interval or a cron expression
type Schedule struct {
	Every time.Duration
	Cron  string
}

// ParseSchedule builds a Schedule from a duration or 5-field cron string
func ParseSchedule(spec string) (Schedule, error) {
	every, cronExpr, err := config.ParseSchedule(spec)
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{Every: every, Cron: cronExpr}, nil
}

func (s Schedule) String() string {
	if s.Cron != "" {
		return s.Cron
	}
	return "every " + s.Every.String()
}

func (s Schedule) definition() (gocron.JobDefinition, error) {
	switch {
	case s.Cron != "":
		return gocron.CronJob(s.Cron, false), nil
	case s.Every > 0:
		return gocron.DurationJob(s.Every), nil
	default:
		return nil, fmt.Errorf("schedule needs an interval or a cron expression")
	}
}

type registeredJob struct {
	job      Job
	schedule Schedule
	handle   gocron.Job
	running  sync.Mutex

	mu           sync.Mutex
	lastRun      time.Time
	lastDuration time.Duration
	lastError    string
	runs         int64
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	NextRunTime  time.Time     `json:"next_run_time,omitempty"`
	LastRunTime  time.Time     `json:"last_run_time,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int64         `json:"runs"`
}

// JobScheduler runs the engine cycles on gocron. Each job runs as a singleton:
// a tick that lands while the previous run is still going is skipped.
type JobScheduler struct {
	scheduler gocron.Scheduler
	metrics   *services.Metrics

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(metrics *services.Metrics) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		metrics:   metrics,
		jobs:      make(map[string]*registeredJob),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job to the scheduler
func (s *JobScheduler) Register(job Job, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	definition, err := schedule.definition()
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	entry := &registeredJob{job: job, schedule: schedule}
	handle, err := s.scheduler.NewJob(
		definition,
		gocron.NewTask(func() {
			if err := s.execute(s.ctx, entry); err != nil && !errors.Is(err, ErrJobRunning) {
				log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	entry.handle = handle

	s.jobs[name] = entry
	log.Printf("✅ [SCHEDULER] Registered job: %s (%s)", name, schedule)
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
	log.Printf("🚀 [SCHEDULER] Started job scheduler with %d jobs", len(s.jobs))
}

// Stop cancels running jobs and waits for them to return
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

// RunNow runs a job immediately and waits for it
func (s *JobScheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	entry, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return ErrJobNotFound
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return s.execute(ctx, entry)
}

func (s *JobScheduler) execute(ctx context.Context, entry *registeredJob) (err error) {
	if !entry.running.TryLock() {
		return ErrJobRunning
	}
	defer entry.running.Unlock()

	name := entry.job.Name()
	logger := logging.WithJob(name, uuid.New().String())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}

		elapsed := time.Since(start)
		entry.mu.Lock()
		entry.lastRun = start
		entry.lastDuration = elapsed
		entry.runs++
		entry.lastError = ""
		if err != nil {
			entry.lastError = err.Error()
		}
		entry.mu.Unlock()

		result := "success"
		if err != nil {
			result = "error"
			logger.Error("job failed", "duration", elapsed, "error", err)
		} else {
			logger.Info("job completed", "duration", elapsed)
		}
		s.metrics.RecordJobRun(name, result)
	}()

	logger.Debug("job started")
	return entry.job.Run(ctx)
}

// GetStatus returns the status of all jobs, sorted by name
func (s *JobScheduler) GetStatus() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make([]JobStatus, 0, len(s.jobs))
	for name, entry := range s.jobs {
		js := JobStatus{Name: name, Schedule: entry.schedule.String()}
		if s.running && entry.handle != nil {
			if next, err := entry.handle.NextRun(); err == nil {
				js.NextRunTime = next
			}
		}

		entry.mu.Lock()
		js.LastRunTime = entry.lastRun
		js.LastDuration = entry.lastDuration
		js.LastError = entry.lastError
		js.Runs = entry.runs
		entry.mu.Unlock()

		status = append(status, js)
	}

	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}
