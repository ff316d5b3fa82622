// Package natsevents publishes token ledger events to NATS subjects.
//
// Every event is a JSON envelope on "<prefix>.<event>", for example
// "tokenledger.hold.captured". Publishing is fire-and-forget; a failed
// publish is logged and never fails the ledger operation.
package natsevents

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/txn"
)

// DefaultSubjectPrefix prefixes every subject.
const DefaultSubjectPrefix = "tokenledger"

// Event names, appended to the subject prefix.
const (
	EventTransactionRecorded = "transaction.recorded"
	EventHoldOpened          = "hold.opened"
	EventHoldCaptured        = "hold.captured"
	EventHoldReversed        = "hold.reversed"
	EventHoldExtended        = "hold.extended"
	EventTransferCompleted   = "transfer.completed"
	EventTransferFailed      = "transfer.failed"
	EventBalanceNegative     = "balance.negative"
	EventIntegrityViolation  = "integrity.violation"
)

var (
	_ plugin.Plugin                = (*Publisher)(nil)
	_ plugin.OnTransactionRecorded = (*Publisher)(nil)
	_ plugin.OnHoldOpened          = (*Publisher)(nil)
	_ plugin.OnHoldCaptured        = (*Publisher)(nil)
	_ plugin.OnHoldReversed        = (*Publisher)(nil)
	_ plugin.OnHoldExtended        = (*Publisher)(nil)
	_ plugin.OnTransferCompleted   = (*Publisher)(nil)
	_ plugin.OnTransferFailed      = (*Publisher)(nil)
	_ plugin.OnNegativeBalance     = (*Publisher)(nil)
	_ plugin.OnIntegrityViolation  = (*Publisher)(nil)
	_ plugin.OnShutdown            = (*Publisher)(nil)

	_ Conn = (*nats.Conn)(nil)
)

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// Envelope is the message body of every event.
type Envelope struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// HoldReversal is the data of hold.reversed.
type HoldReversal struct {
	Transaction *txn.Transaction `json:"transaction"`
	Reason      string           `json:"reason"`
}

// HoldExtension is the data of hold.extended.
type HoldExtension struct {
	Transaction       *txn.Transaction `json:"transaction"`
	PreviousExpiresAt time.Time        `json:"previous_expires_at"`
}

// Transfer is the data of transfer.completed.
type Transfer struct {
	Debit  *txn.Transaction `json:"debit"`
	Credit *txn.Transaction `json:"credit"`
}

// TransferFailure is the data of transfer.failed.
type TransferFailure struct {
	RefID     string `json:"ref_id"`
	FailedLeg string `json:"failed_leg"`
	Error     string `json:"error"`
}

// NegativeBalance is the data of balance.negative.
type NegativeBalance struct {
	UserID      string `json:"user_id"`
	PaidTokens  int64  `json:"paid_tokens"`
	TotalTokens int64  `json:"total_tokens"`
}

// IntegrityViolation is the data of integrity.violation.
type IntegrityViolation struct {
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix replaces DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) { p.prefix = prefix }
}

// WithLogger sets the logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// Publisher is a ledger plugin that forwards events to NATS.
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Publisher over conn, usually a *nats.Conn.
func New(conn Conn, opts ...Option) *Publisher {
	p := &Publisher{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "nats-events" }

// Subject returns the full subject of event.
func (p *Publisher) Subject(event string) string {
	return p.prefix + "." + event
}

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (p *Publisher) OnTransactionRecorded(_ context.Context, t *txn.Transaction) error {
	return p.publish(EventTransactionRecorded, t)
}

// OnHoldOpened implements plugin.OnHoldOpened.
func (p *Publisher) OnHoldOpened(_ context.Context, t *txn.Transaction) error {
	return p.publish(EventHoldOpened, t)
}

// OnHoldCaptured implements plugin.OnHoldCaptured.
func (p *Publisher) OnHoldCaptured(_ context.Context, t *txn.Transaction) error {
	return p.publish(EventHoldCaptured, t)
}

// OnHoldReversed implements plugin.OnHoldReversed.
func (p *Publisher) OnHoldReversed(_ context.Context, t *txn.Transaction, reason string) error {
	return p.publish(EventHoldReversed, HoldReversal{Transaction: t, Reason: reason})
}

// OnHoldExtended implements plugin.OnHoldExtended.
func (p *Publisher) OnHoldExtended(_ context.Context, t *txn.Transaction, previous time.Time) error {
	return p.publish(EventHoldExtended, HoldExtension{Transaction: t, PreviousExpiresAt: previous})
}

// OnTransferCompleted implements plugin.OnTransferCompleted.
func (p *Publisher) OnTransferCompleted(_ context.Context, debit, credit *txn.Transaction) error {
	return p.publish(EventTransferCompleted, Transfer{Debit: debit, Credit: credit})
}

// OnTransferFailed implements plugin.OnTransferFailed.
func (p *Publisher) OnTransferFailed(_ context.Context, refID string, leg string, err error) error {
	f := TransferFailure{RefID: refID, FailedLeg: leg}
	if err != nil {
		f.Error = err.Error()
	}
	return p.publish(EventTransferFailed, f)
}

// OnNegativeBalance implements plugin.OnNegativeBalance.
func (p *Publisher) OnNegativeBalance(_ context.Context, userID string, paid, total int64) error {
	return p.publish(EventBalanceNegative, NegativeBalance{UserID: userID, PaidTokens: paid, TotalTokens: total})
}

// OnIntegrityViolation implements plugin.OnIntegrityViolation.
func (p *Publisher) OnIntegrityViolation(_ context.Context, txID string, kind string, detail string) error {
	return p.publish(EventIntegrityViolation, IntegrityViolation{TransactionID: txID, Kind: kind, Detail: detail})
}

// OnShutdown flushes buffered messages.
func (p *Publisher) OnShutdown(ctx context.Context) error {
	return p.conn.FlushWithContext(ctx)
}

func (p *Publisher) publish(event string, data any) error {
	body, err := json.Marshal(Envelope{
		ID:         id.NewEventID().String(),
		Event:      event,
		OccurredAt: p.now().UTC(),
		Data:       data,
	})
	if err != nil {
		p.logger.Warn("natsevents: failed to encode event", "event", event, "error", err)
		return nil
	}

	if err := p.conn.Publish(p.Subject(event), body); err != nil {
		p.logger.Warn("natsevents: failed to publish event",
			"subject", p.Subject(event),
			"error", err,
		)
	}
	return nil
}
