package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elitemodel/backoffice/internal/cache"
	"github.com/elitemodel/backoffice/internal/models"
)

type options struct {
	Logger   *log.Logger
	Engine   reconciler
	Pending  pendingCounter
	Status   cache.JSONStore
	Enabled  func() bool
	Cron     *cron.Cron
	Parser   cron.Parser
	Jobs     []*models.ScheduledJob
	Location *time.Location
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{Logger: log.Default(), Location: time.UTC}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithReconciler supplies the engine the payment job drives.
func WithReconciler(r reconciler) Option {
	return func(o *options) {
		o.Engine = r
	}
}

// WithPendingCounter supplies the store consulted before touching the mailbox.
func WithPendingCounter(p pendingCounter) Option {
	return func(o *options) {
		o.Pending = p
	}
}

// WithStatusStore sets where the last run summary is written.
func WithStatusStore(s cache.JSONStore) Option {
	return func(o *options) {
		o.Status = s
	}
}

// WithEnabledFunc overrides the live configuration toggle.
func WithEnabledFunc(fn func() bool) Option {
	return func(o *options) {
		o.Enabled = fn
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithCronParser allows replacing the cron expression parser.
func WithCronParser(p cron.Parser) Option {
	return func(o *options) {
		o.Parser = p
	}
}

// WithJobs registers explicit job definitions instead of defaults.
func WithJobs(jobs []*models.ScheduledJob) Option {
	return func(o *options) {
		o.Jobs = jobs
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}
