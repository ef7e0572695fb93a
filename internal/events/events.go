// Package events publishes confirmed facts for downstream consumers
// (dashboards, certificate renderers). Consumers are eventually consistent by
// contract; publishing never fails a workflow, and a dropped event is healed
// the next time the consumer re-queries the store.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"landledger/pkg/requestcontext"
)

// Type labels a confirmed fact.
type Type string

const (
	TypeRegistrationSubmitted Type = "registration.submitted"
	TypeRegistrationRejected  Type = "registration.rejected"
	TypeParcelVerified        Type = "parcel.verified"
	TypeTransferInitiated     Type = "transfer.initiated"
	TypeTransferApproved      Type = "transfer.approved"
	TypeTransferCompleted     Type = "transfer.completed"
)

// Event is the projection-change notification sent to consumers.
type Event struct {
	Type           Type      `json:"type"`
	ParcelID       string    `json:"parcel_id"`
	LedgerParcelID int64     `json:"ledger_parcel_id,omitempty"`
	Owner          string    `json:"owner,omitempty"`
	TxHash         string    `json:"tx_hash,omitempty"`
	At             time.Time `json:"at"`
}

// Sink delivers events to a transport (kafka, in-memory for tests).
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
	Close() error
}

// Publisher wraps a sink with an optional async buffer that is drained on
// Close.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer publishes through a buffered channel so workflow latency
// does not include broker round trips.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.ch = make(chan Event, size)
	}
}

func NewPublisher(sink Sink, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{sink: sink, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	if p.ch != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit publishes an event. Failures are logged and swallowed: the store is
// the source for consumers that missed an event.
func (p *Publisher) Emit(ctx context.Context, ev Event) {
	if p == nil || p.sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = requestcontext.Now(ctx).UTC()
	}
	if p.ch != nil {
		select {
		case p.ch <- ev:
		default:
			p.logger.Warn("event buffer full, dropping event", "type", string(ev.Type), "parcel_id", ev.ParcelID)
		}
		return
	}
	p.deliver(ctx, ev)
}

// Close drains any buffered events and closes the sink.
func (p *Publisher) Close() {
	if p == nil || p.sink == nil {
		return
	}
	p.once.Do(func() {
		if p.ch != nil {
			close(p.ch)
			p.wg.Wait()
		}
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("closing event sink", "error", err)
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for ev := range p.ch {
		p.deliver(context.Background(), ev)
	}
}

func (p *Publisher) deliver(ctx context.Context, ev Event) {
	if err := p.sink.Deliver(ctx, ev); err != nil {
		p.logger.Warn("event delivery failed",
			"type", string(ev.Type),
			"parcel_id", ev.ParcelID,
			"error", err,
		)
	}
}
