package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elitemodel/backoffice/internal/cache"
	"github.com/elitemodel/backoffice/internal/config"
	"github.com/elitemodel/backoffice/internal/models"
	"github.com/elitemodel/backoffice/internal/reconciliation"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)

// ErrSkipped lets a handler report that it deliberately did nothing this tick.
var ErrSkipped = errors.New("job skipped")

type reconciler interface {
	Run(ctx context.Context) (reconciliation.Result, error)
}

type pendingCounter interface {
	CountByStatus(ctx context.Context, status models.ApplicationStatus) (int, error)
}

// Handler executes a scheduled job.
type Handler func(context.Context, *models.ScheduledJob) error

// Service coordinates scheduled job execution.
type Service struct {
	engine    reconciler
	pending   pendingCounter
	status    cache.JSONStore
	enabled   func() bool
	cron      *cron.Cron
	parser    cron.Parser
	handlers  map[string]Handler
	entries   map[string]cron.EntryID
	jobs      map[string]*models.ScheduledJob
	mu        sync.RWMutex
	handlerMu sync.RWMutex
	rootCtx   context.Context
	logger    *log.Logger
	startOnce sync.Once
	stopOnce  sync.Once
	location  *time.Location
}

// NewService wires a scheduler. Without explicit jobs it schedules the
// built-in payment reconciliation job.
func NewService(opts ...Option) *Service {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = log.Default()
	}

	location := options.Location
	if location == nil {
		location = time.UTC
	}

	cronEngine := options.Cron
	if cronEngine == nil {
		cronEngine = cron.New(cron.WithLocation(location))
	}
	var zeroParser cron.Parser
	parser := options.Parser
	if parser == zeroParser {
		parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	}

	enabled := options.Enabled
	if enabled == nil {
		enabled = mailboxEnabled
	}

	jobs := make(map[string]*models.ScheduledJob)
	defs := options.Jobs
	if len(defs) == 0 {
		defs = defaultJobs(config.Get())
	}
	for _, job := range defs {
		if job == nil || job.Slug == "" || job.Schedule == "" {
			continue
		}
		jobs[job.Slug] = job.Clone()
	}

	s := &Service{
		engine:   options.Engine,
		pending:  options.Pending,
		status:   options.Status,
		enabled:  enabled,
		cron:     cronEngine,
		parser:   parser,
		handlers: make(map[string]Handler),
		entries:  make(map[string]cron.EntryID),
		jobs:     jobs,
		logger:   options.Logger,
		location: location,
	}

	s.registerBuiltinHandlers()
	return s
}

// Run starts the scheduler loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.rootCtx = ctx
		s.scheduleAllJobs()
		s.cron.Start()
		s.runStartupJobs()
	})

	<-ctx.Done()
	s.stopCron()
	return nil
}

// Jobs returns snapshots of every scheduled job ordered by slug.
func (s *Service) Jobs() []*models.ScheduledJob {
	s.mu.RLock()
	out := make([]*models.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *models.ScheduledJob) int { return strings.Compare(a.Slug, b.Slug) })
	return out
}

// runStartupJobs fires every RunOnStartup job once, outside the cron cadence.
func (s *Service) runStartupJobs() {
	s.mu.RLock()
	due := make(map[string]cron.EntryID)
	for slug, job := range s.jobs {
		if job != nil && job.RunOnStartup {
			due[slug] = s.entries[slug]
		}
	}
	s.mu.RUnlock()

	for slug, entryID := range due {
		go s.executeJob(slug, entryID)
	}
}

func (s *Service) scheduleAllJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slug, job := range s.jobs {
		if job == nil {
			continue
		}
		if err := s.addJobLocked(job.Clone()); err != nil {
			s.logger.Printf("scheduler: failed to schedule job %s: %v", slug, err)
		}
	}
}

func (s *Service) stopCron() {
	s.stopOnce.Do(func() {
		ctx := s.cron.Stop()
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Printf("scheduler: timed out waiting for jobs to finish")
		}
	})
}

func (s *Service) addJobLocked(job *models.ScheduledJob) error {
	schedule, err := s.parser.Parse(job.Schedule)
	if err != nil {
		return err
	}

	slug := job.Slug
	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.executeJob(slug, entryID)
	}))

	s.entries[slug] = entryID
	s.jobs[slug] = job
	return nil
}

func (s *Service) executeJob(slug string, entryID cron.EntryID) {
	job := s.jobSnapshot(slug)
	if job == nil {
		return
	}

	start := s.now()
	handler := s.getHandler(job.Handler)
	if handler == nil {
		s.finalizeRun(job, slug, entryID, start, start, statusFailed, fmt.Errorf("handler %s not registered", job.Handler))
		return
	}

	status, runErr := classify(s.invoke(handler, job))
	if status == statusFailed {
		s.logger.Printf("scheduler: job %s failed: %v", slug, runErr)
	}
	s.finalizeRun(job, slug, entryID, start, s.now(), status, runErr)
}

// invoke runs handler under the job timeout and turns a panic into an error.
func (s *Service) invoke(handler Handler, job *models.ScheduledJob) (err error) {
	ctx := s.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if job.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func classify(err error) (string, error) {
	switch {
	case err == nil:
		return statusSuccess, nil
	case errors.Is(err, ErrSkipped):
		return statusSkipped, nil
	default:
		return statusFailed, err
	}
}

func (s *Service) finalizeRun(job *models.ScheduledJob, slug string, entryID cron.EntryID, start, finish time.Time, status string, runErr error) {
	duration := finish.Sub(start)
	cloned := job.Clone()
	cloned.LastRunAt = &finish
	cloned.LastDurationMS = duration.Milliseconds()
	cloned.LastStatus = status
	cloned.Runs++
	if status == statusSkipped {
		cloned.Skips++
	}
	if runErr != nil {
		msg := runErr.Error()
		cloned.ErrorMessage = &msg
	} else {
		cloned.ErrorMessage = nil
	}

	if entry := s.cron.Entry(entryID); entry.ID != 0 && !entry.Next.IsZero() {
		next := entry.Next.In(s.location)
		cloned.NextRunAt = &next
	} else {
		cloned.NextRunAt = nil
	}

	s.applyExecutionResult(slug, cloned)
}

func (s *Service) now() time.Time {
	if s.location == nil {
		return time.Now()
	}
	return time.Now().In(s.location)
}

func (s *Service) applyExecutionResult(slug string, job *models.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[slug] = job.Clone()
}

func (s *Service) jobSnapshot(slug string) *models.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job, ok := s.jobs[slug]; ok {
		return job.Clone()
	}
	return nil
}

func (s *Service) getHandler(name string) Handler {
	if name == "" {
		return nil
	}
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handlers[name]
}

// RegisterHandler attaches or replaces a handler for the given name. Passing nil removes the handler.
func (s *Service) RegisterHandler(name string, handler Handler) {
	if name == "" {
		return
	}
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if handler == nil {
		delete(s.handlers, name)
		return
	}
	s.handlers[name] = handler
}

func mailboxEnabled() bool {
	cfg := config.Get()
	return cfg != nil && cfg.Mailbox.Enabled
}
