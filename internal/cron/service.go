// Package cron runs the gateway's housekeeping jobs on robfig/cron schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/logging"
)

const stopTimeout = 5 * time.Second

var ErrUnknownJob = errors.New("unknown job")

// Func is the body of a job. ctx is cancelled when the service stops.
type Func func(ctx context.Context) error

type JobState struct {
	Runs       int       `json:"runs"`
	LastRunAt  time.Time `json:"last_run_at,omitzero"`
	LastStatus string    `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Job is a snapshot of a registered job.
type Job struct {
	Name  string    `json:"name"`
	Spec  string    `json:"spec"`
	Next  time.Time `json:"next,omitzero"`
	State JobState  `json:"state"`
}

type job struct {
	name  string
	spec  string
	fn    Func
	entry rcron.EntryID
	state JobState
}

type Service struct {
	logger zerolog.Logger
	cron   *rcron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	running bool
}

func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logging.Component(logger, "cron"),
		cron:   rcron.New(rcron.WithSeconds()),
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
	}
}

// Add registers fn under name. spec uses the six-field seconds format or a
// descriptor such as "@every 1m".
func (s *Service) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("schedule job %q (%s): %w", name, spec, err)
	}
	j.entry = id
	s.jobs[name] = j
	s.order = append(s.order, name)
	return nil
}

// Remove unschedules a job. It reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// RunNow runs a job synchronously outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(j)
}

func (s *Service) execute(j *job) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	started := time.Now()
	err := j.fn(ctx)

	s.mu.Lock()
	j.state.Runs++
	j.state.LastRunAt = started
	if err != nil {
		j.state.LastStatus = "error"
		j.state.LastError = err.Error()
	} else {
		j.state.LastStatus = "ok"
		j.state.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("job", j.name).Msg("job failed")
	} else {
		s.logger.Debug().Str("job", j.name).Dur("took", time.Since(started)).Msg("job done")
	}
	return err
}

// Jobs lists registered jobs in registration order.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		out = append(out, Job{
			Name:  j.name,
			Spec:  j.spec,
			Next:  s.cron.Entry(j.entry).Next,
			State: j.state,
		})
	}
	return out
}

// Start begins scheduling. The service stops by itself when ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("cron already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.ctx, s.cancel, s.stopCh, s.running = runCtx, cancel, stopCh, true
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", n).Msg("started")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// Stop halts scheduling and waits up to five seconds for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, stopCh := s.cancel, s.stopCh
	s.cancel, s.stopCh, s.running = nil, nil, false
	s.mu.Unlock()

	close(stopCh)
	cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-time.After(stopTimeout):
		s.logger.Warn().Msg("stop timeout waiting for running jobs")
	}
	s.logger.Info().Msg("stopped")
}
