// Package sweep runs periodic recovery passes over registered projects
// on a cron schedule.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RunFunc performs one recovery pass for a project.
type RunFunc func(ctx context.Context, projectPath string) error

// Sweeper triggers recovery runs per project according to each
// project's cron expression. At most one run per project is in flight
// at a time.
type Sweeper struct {
	parser   cron.Parser
	runFunc  RunFunc
	log      zerolog.Logger
	interval time.Duration

	schedules map[string]string // project path -> cron expression
	lastRun   map[string]time.Time
	running   map[string]bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// New creates a Sweeper.
func New(runFunc RunFunc, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		runFunc:   runFunc,
		log:       log,
		interval:  time.Minute,
		schedules: make(map[string]string),
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
		stopChan:  make(chan struct{}),
	}
}

// ParseCron validates a cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// AddProject schedules recovery sweeps for a project.
func (s *Sweeper) AddProject(projectPath, cronExpr string) error {
	if _, err := s.parser.Parse(cronExpr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[projectPath] = cronExpr
	return nil
}

// RemoveProject unschedules a project.
func (s *Sweeper) RemoveProject(projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, projectPath)
	delete(s.lastRun, projectPath)
}

// NextRun returns the next scheduled sweep time for a project.
func (s *Sweeper) NextRun(projectPath string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expr, ok := s.schedules[projectPath]
	if !ok {
		return time.Time{}
	}
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// ShouldRun reports whether a project's sweep is due and not already in
// flight.
func (s *Sweeper) ShouldRun(projectPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expr, ok := s.schedules[projectPath]
	if !ok || s.running[projectPath] {
		return false
	}
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return false
	}

	lastRun := s.lastRun[projectPath]
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(sched.Next(lastRun))
}

func (s *Sweeper) markRunning(projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[projectPath] = true
}

func (s *Sweeper) markComplete(projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[projectPath] = false
	s.lastRun[projectPath] = time.Now()
}

// Projects returns the scheduled project paths.
func (s *Sweeper) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.schedules))
	for path := range s.schedules {
		paths = append(paths, path)
	}
	return paths
}

// SetInterval changes how often due schedules are checked.
func (s *Sweeper) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// Start begins the sweep loop. It blocks until Stop is called or ctx is
// canceled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.RLock()
	interval := s.interval
	s.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweepDue(ctx)
		}
	}
}

func (s *Sweeper) sweepDue(ctx context.Context) {
	for _, projectPath := range s.Projects() {
		if !s.ShouldRun(projectPath) {
			continue
		}
		s.markRunning(projectPath)
		go func(path string) {
			defer s.markComplete(path)
			if err := s.runFunc(ctx, path); err != nil {
				s.log.Error().Err(err).Str("project", path).Msg("recovery sweep failed")
			}
		}(projectPath)
	}
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}
