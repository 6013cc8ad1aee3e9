// Package reconciliation matches bank transfer notifications in the payments
// mailbox against pending applications and accepts the ones that are paid.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/elitemodel/backoffice/internal/email/inbound/connector"
	"github.com/elitemodel/backoffice/internal/email/inbound/filters"
	"github.com/elitemodel/backoffice/internal/email/inbound/postmaster"
)

// Result summarises one pass.
type Result struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Seen       int             `json:"seen"`
	Processed  int             `json:"processed"`
	Outcomes   map[Outcome]int `json:"outcomes"`
}

// Engine runs reconciliation passes. At most one pass runs at a time per
// process, and per cluster when a Locker is configured.
type Engine struct {
	opener   connector.Opener
	store    ApplicationStore
	fees     FeeSource
	settings SettingsSource
	lease    Locker
	metrics  *Metrics
	logger   *log.Logger
	now      func() time.Time
	loc      *time.Location
	running  atomic.Bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger replaces the default logger; nil is ignored.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLease adds a distributed run guard on top of the in-process one.
func WithLease(l Locker) Option {
	return func(e *Engine) { e.lease = l }
}

// WithMetrics records runs and per-message outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now for run timestamps and audit notes.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone audit timestamps are written in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// NewEngine wires an engine. Settings and fee are read again on every Run.
func NewEngine(opener connector.Opener, store ApplicationStore, fees FeeSource, settings SettingsSource, opts ...Option) *Engine {
	e := &Engine{
		opener:   opener,
		store:    store,
		fees:     fees,
		settings: settings,
		logger:   log.Default(),
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one pass over the unseen messages in the mailbox.
// Connection-level failures are returned wrapped in ErrMailbox; failures on a
// single message are counted as OutcomeFailed and never abort the batch.
func (e *Engine) Run(ctx context.Context) (res Result, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer e.running.Store(false)

	if e.lease != nil {
		release, acquired, lerr := e.lease.TryAcquire(ctx)
		switch {
		case lerr != nil:
			e.logger.Printf("reconcile: lease unavailable, using local guard only: %v", lerr)
		case !acquired:
			return Result{}, ErrRunInProgress
		default:
			defer release()
		}
	}

	res = Result{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
		Outcomes:  make(map[Outcome]int, len(Outcomes)),
	}
	defer func() {
		res.FinishedAt = e.now()
		e.metrics.run(runStatus(err), res.FinishedAt.Sub(res.StartedAt))
	}()

	settings, err := e.settings.Settings(ctx)
	if err != nil {
		return res, err
	}
	fee, err := e.fees.RequiredFee(ctx)
	if err != nil {
		return res, fmt.Errorf("read required fee: %w", err)
	}

	session, err := e.opener.Open(ctx, settings.Account)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrMailbox, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			e.logger.Printf("reconcile: close mailbox: %v", cerr)
		}
	}()

	messages, err := session.FetchUnseen(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrMailbox, err)
	}
	res.Seen = len(messages)

	svc := postmaster.Service{
		FilterChain: filters.NewChain(
			filters.NewTrustedSenderFilter(e.logger, settings.TrustedSenders...),
			filters.NewBodyTextFilter(e.logger),
			filters.NewPaymentAssertionFilter(e.logger, filters.NewAssertionParser(settings.TokenPrefix)),
		),
		Handler: &matcher{store: e.store, fee: fee, logger: e.logger, now: e.now, loc: e.loc},
	}

	for _, msg := range messages {
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}
		outcome := e.dispatch(ctx, svc, msg)
		res.Outcomes[outcome]++
		e.metrics.message(outcome)
		switch {
		case outcome == OutcomeAccepted:
			res.Processed++
			e.markSeen(ctx, session, msg)
		case settings.MarkSkippedSeen && outcome.settled():
			e.markSeen(ctx, session, msg)
		}
	}

	e.logger.Printf("reconcile: run %s seen=%d processed=%d outcomes=%v", res.RunID, res.Seen, res.Processed, res.Outcomes)
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, svc postmaster.Service, msg *connector.FetchedMessage) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("reconcile: uid=%s panic: %v", uidOf(msg), r)
			outcome = OutcomeFailed
		}
	}()

	result, err := svc.Dispatch(ctx, msg)
	if err != nil {
		e.logger.Printf("reconcile: uid=%s failed: %v", uidOf(msg), err)
		return OutcomeFailed
	}
	if result.Action == "" {
		return OutcomeFailed
	}
	return Outcome(result.Action)
}

// markSeen is best effort: the acceptance is already committed and a
// leftover unseen message is harmless because the next pass sees not_pending.
func (e *Engine) markSeen(ctx context.Context, session connector.Session, msg *connector.FetchedMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("reconcile: uid=%s mark seen panic: %v", uidOf(msg), r)
		}
	}()
	if err := session.MarkSeen(ctx, msg); err != nil {
		e.logger.Printf("reconcile: uid=%s mark seen: %v", uidOf(msg), err)
	}
}

func uidOf(msg *connector.FetchedMessage) string {
	if msg == nil {
		return "?"
	}
	return msg.UID
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrReconciliationDisabled):
		return "disabled"
	case errors.Is(err, ErrMailbox):
		return "mailbox_error"
	default:
		return "error"
	}
}
