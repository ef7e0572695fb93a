// Package service implements the registration and transfer reconciliation
// workflows: submit a fact to the ledger, wait for confirmation, then project
// the confirmed fact into the off-chain store under compare-and-swap guards.
// Every step either fully completes (ledger confirmed and off-chain persisted)
// or returns a typed error naming which half succeeded, so a retry driver
// knows where to resume.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"landledger/internal/events"
	"landledger/internal/ledger"
	ledgermetrics "landledger/internal/ledger/metrics"
	"landledger/internal/platform/clock"
	"landledger/internal/registry/metrics"
	"landledger/internal/registry/pending"
	"landledger/internal/registry/store"
	dErrors "landledger/pkg/domain-errors"
)

const defaultAwaitTimeout = 30 * time.Second

// Service orchestrates both workflows against one record store and one
// ledger. Concurrency control lives entirely in the store's conditional
// writes; the service holds no in-process locks, so multiple instances can
// run against the same store.
type Service struct {
	store   store.Store
	ledger  ledger.Client
	pending pending.Store
	events  *events.Publisher

	logger        *slog.Logger
	metrics       *metrics.Metrics
	ledgerMetrics *ledgermetrics.Metrics
	clock         clock.Clock
	retry         ledger.RetryPolicy
	tracer        trace.Tracer
	awaitTimeout  time.Duration
}

// Option configures optional service dependencies.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLedgerMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.ledgerMetrics = m }
}

func WithEvents(p *events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithAwaitTimeout bounds each confirmation wait. On timeout the workflow
// returns CodeConfirmationTimeout and the pending handle is kept for re-polls.
func WithAwaitTimeout(d time.Duration) Option {
	return func(s *Service) { s.awaitTimeout = d }
}

func New(st store.Store, lc ledger.Client, pd pending.Store, opts ...Option) *Service {
	s := &Service{
		store:        st,
		ledger:       lc,
		pending:      pd,
		logger:       slog.Default(),
		clock:        clock.NewSystem(),
		retry:        ledger.DefaultRetryPolicy(),
		tracer:       otel.Tracer("landledger/registry"),
		awaitTimeout: defaultAwaitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// submitAndAwait is the one path every ledger mutation takes. The key names
// the logical request: when a previous attempt is still stored under that
// key, the handle is re-awaited instead of submitting again, which is what
// makes retries idempotent. The handle outlives confirmation; callers clear
// it with clearPending only once the confirmed fact is projected off chain,
// so a persistence failure retries by re-polling the mined transaction
// instead of resubmitting a request the ledger would revert.
func (s *Service) submitAndAwait(ctx context.Context, key string, sub ledger.Submission) (ledger.Confirmation, error) {
	tx, found, err := s.pending.Get(ctx, key)
	if err != nil {
		return ledger.Confirmation{}, dErrors.Wrap(err, dErrors.CodeInternal, "read pending handle")
	}

	if !found {
		err = s.retry.Do(ctx, func() error {
			var submitErr error
			tx, submitErr = s.ledger.Submit(ctx, sub)
			return submitErr
		})
		if err != nil {
			s.ledgerMetrics.RecordSubmission(string(sub.Kind), "error")
			return ledger.Confirmation{}, err
		}
		s.ledgerMetrics.RecordSubmission(string(sub.Kind), "submitted")
		if putErr := s.pending.Put(ctx, key, tx); putErr != nil {
			s.logger.Warn("storing pending handle failed; a timed-out retry would resubmit",
				"key", key, "error", putErr)
		}
	}

	awaitCtx := ctx
	if s.awaitTimeout > 0 {
		var cancel context.CancelFunc
		awaitCtx, cancel = context.WithTimeout(ctx, s.awaitTimeout)
		defer cancel()
	}

	start := time.Now()
	conf, err := s.ledger.AwaitConfirmation(awaitCtx, tx)
	s.ledgerMetrics.ObserveConfirmationWait(time.Since(start).Seconds())
	if err != nil {
		if dErrors.Is(err, dErrors.CodeConfirmationTimeout) {
			// The handle stays stored: the next attempt re-polls it.
			s.ledgerMetrics.RecordConfirmationTimeout()
		}
		return ledger.Confirmation{}, err
	}
	return conf, nil
}

// clearPending removes a logical request's handle once its confirmation is
// fully persisted. Failures are logged only: a leftover handle replays the
// same confirmation on the next call, which every projection path tolerates.
func (s *Service) clearPending(ctx context.Context, key string) {
	if err := s.pending.Delete(ctx, key); err != nil {
		s.logger.Warn("deleting settled pending handle failed", "key", key, "error", err)
	}
}

// observe wraps one public operation with metrics and a trace span.
func (s *Service) observe(ctx context.Context, operation string) (context.Context, func(err error)) {
	ctx, span := s.tracer.Start(ctx, operation)
	start := time.Now()
	return ctx, func(err error) {
		span.End()
		s.metrics.ObserveWorkflow(operation, time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
		}
		s.metrics.RecordOutcome(operation, outcome)
	}
}

func (s *Service) emit(ctx context.Context, ev events.Event) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, ev)
}
