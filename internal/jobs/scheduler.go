package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// #region schedule-config
// Schedule says when each job runs. Empty cron strings and zero intervals
// leave the job unregistered.
type Schedule struct {
	DailyCron        string
	WeeklyCron       string
	ReapInterval     time.Duration
	DeliveryInterval time.Duration
	// Timeout bounds one job run.
	Timeout time.Duration
}

// #endregion schedule-config

// #region scheduler
// Scheduler registers the runner's jobs with gocron.
type Scheduler struct {
	scheduler gocron.Scheduler
	runner    *Runner
	timeout   time.Duration
	log       *logrus.Entry
}

// NewScheduler creates the scheduler and registers every configured job.
// Jobs run in singleton mode so a slow run is never overlapped by the next.
func NewScheduler(runner *Runner, sched Schedule, logger *logrus.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	timeout := sched.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Scheduler{
		scheduler: gs,
		runner:    runner,
		timeout:   timeout,
		log:       logger.WithField("component", "scheduler"),
	}

	if sched.DailyCron != "" {
		if err := s.add("daily", gocron.CronJob(sched.DailyCron, false), func(ctx context.Context) error {
			_, err := runner.RunDaily(ctx, nil)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if sched.WeeklyCron != "" {
		if err := s.add("weekly", gocron.CronJob(sched.WeeklyCron, false), func(ctx context.Context) error {
			_, err := runner.RunWeekly(ctx, nil)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if sched.ReapInterval > 0 {
		if err := s.add("reap", gocron.DurationJob(sched.ReapInterval), func(ctx context.Context) error {
			_, err := runner.Reap(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if sched.DeliveryInterval > 0 {
		if err := s.add("deliver", gocron.DurationJob(sched.DeliveryInterval), func(ctx context.Context) error {
			_, err := runner.DeliverDigests(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn func(context.Context) error) error {
	_, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := fn(ctx); err != nil {
				s.log.WithError(err).WithField("job", name).Error("scheduled job failed")
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	s.log.WithField("job", name).Info("job registered")
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	var out []string
	for _, j := range s.scheduler.Jobs() {
		out = append(out, j.Name())
	}
	return out
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.log.Info("scheduler started")
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// #endregion scheduler
