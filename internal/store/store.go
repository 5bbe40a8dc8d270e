package store

import (
	"context"
	"errors"
	"time"

	"crossrail/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound               = errors.New("not found")
	ErrSessionExpired         = errors.New("session expired")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// EventKey is the global identity of a payment event. Arrival order and
// delivery count never participate in identity.
type EventKey struct {
	TransactionHash     string
	SettlementReference string
	SourceNetwork       string
}

// MarkRecordPaidParams carries the settlement attached to a record when the
// reconciler transitions it to paid.
type MarkRecordPaidParams struct {
	Reference models.SettlementReference
	TxHash    string
	Amount    decimal.Decimal
	PaidAt    time.Time
}

// CreateOfframpParams is the validated input persisted as a new off-ramp
// transaction in status pending.
type CreateOfframpParams struct {
	Id            string
	UserId        string
	SourceAmount  decimal.Decimal
	SourceToken   string
	SourceNetwork string
	FiatAmount    decimal.Decimal
	FiatCurrency  string
	Rate          decimal.Decimal
	BankDetails   models.BankDetails
}

// EventStore persists payment events: the audit trail and dedup ledger.
type EventStore interface {
	GetPaymentEvent(ctx context.Context, key EventKey) (*models.PaymentEvent, error)
	// UpsertPaymentEvent inserts the event if its identity is new; a
	// not-yet-processed duplicate converges to the existing row.
	UpsertPaymentEvent(ctx context.Context, event models.PaymentEvent) error
	MarkEventProcessed(ctx context.Context, key EventKey) error
	// MarkEventDropped records a permanent failure: processed is set so the
	// event is never replayed, with the reason kept for the audit trail.
	MarkEventDropped(ctx context.Context, key EventKey, reason string) error
	MarkEventNotified(ctx context.Context, key EventKey) error
	// ListUnprocessedEvents returns events eligible for startup replay.
	ListUnprocessedEvents(ctx context.Context, limit int) ([]models.PaymentEvent, error)
}

// RecordStore reads and conditionally advances ledger records. The core owns
// only the pre-payment -> paid transition; all other writers live outside.
type RecordStore interface {
	GetLedgerRecord(ctx context.Context, ref models.SettlementReference) (*models.LedgerRecord, error)
	// MarkRecordPaid performs the conditional pre-payment -> paid transition.
	// It returns false (and no error) when another processor already advanced
	// the record: the loser must fall back to no-op behavior.
	MarkRecordPaid(ctx context.Context, params MarkRecordPaidParams) (bool, error)
	// InsertLedgerRecord exists for the surrounding CRUD system, seeds, and
	// tests; the reconciler never creates records.
	InsertLedgerRecord(ctx context.Context, record models.LedgerRecord) error
}

// OfframpStore persists off-ramp transactions with optimistic,
// status-conditional writes. Every transition names its expected current
// status; a failed precondition means someone else already advanced the row.
type OfframpStore interface {
	CreateOfframpTransaction(ctx context.Context, params CreateOfframpParams) (*models.OfframpTransaction, error)
	GetOfframpTransaction(ctx context.Context, id string) (*models.OfframpTransaction, error)
	// TransitionOfframpStatus is a compare-and-swap on status. Returns false
	// when the row was not in the expected status.
	TransitionOfframpStatus(ctx context.Context, id string, from, to models.OfframpStatus) (bool, error)
	SetOfframpOrder(ctx context.Context, id, orderId, receiveAddress string) error
	// SetOfframpQuote records the re-selected source network and the fresh
	// rate and fiat amount after a retry's balance and rate re-check.
	SetOfframpQuote(ctx context.Context, id, network string, rate, fiatAmount decimal.Decimal) error
	// SetOfframpChainTx records the broadcast transfer and advances
	// pending -> processing in one conditional write. Returns false when the
	// transaction is no longer pending or a transfer is already recorded -
	// the caller must abort rather than double-transfer.
	SetOfframpChainTx(ctx context.Context, id, chainTxHash string) (bool, error)
	SetOfframpPayout(ctx context.Context, id, payoutOrderId string) error
	MarkOfframpFailed(ctx context.Context, id, errorStep, errorMessage string) error
	// CancelOfframp fails a transaction that is still pending. Returns false
	// when the transaction already advanced; once a transfer is broadcast,
	// cancellation is off the table.
	CancelOfframp(ctx context.Context, id, reason string) (bool, error)
	// ResetOfframpForRetry is the only backward transition: failed -> pending,
	// clearing payout and error fields. When clearChainTx is set (no funds
	// have moved yet) the chain hash, partner order id, and deposit address
	// are cleared as well, so the retry creates a fresh order for whichever
	// network the balance re-check selects. Returns false when the
	// transaction is not in status failed.
	ResetOfframpForRetry(ctx context.Context, id string, clearChainTx bool) (bool, error)
	ListOfframpByStatus(ctx context.Context, status models.OfframpStatus, limit int) ([]models.OfframpTransaction, error)
}

// SessionStore persists conversational off-ramp sessions with a hard TTL.
type SessionStore interface {
	// CreateSession deletes any prior sessions for the user, then inserts a
	// fresh one at the given step with expiry fixed at now + ttl.
	CreateSession(ctx context.Context, userId string, step models.SessionStep, ttl time.Duration) (*models.OfframpSession, error)
	// UpdateSession merges partial data into the session and advances the
	// step. ErrNotFound and ErrSessionExpired are distinguishable: expired
	// means the caller needs a fresh CreateSession, not a retry.
	UpdateSession(ctx context.Context, id string, step models.SessionStep, partial map[string]string) (*models.OfframpSession, error)
	// GetActiveSession returns the most recent non-expired session for the
	// user, or ErrNotFound.
	GetActiveSession(ctx context.Context, userId string) (*models.OfframpSession, error)
	ClearSession(ctx context.Context, id string) error
	// DeleteExpiredSessions is garbage collection only; expiry is enforced
	// independently on every read and update.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full contract the SQLite backend satisfies.
type Store interface {
	EventStore
	RecordStore
	OfframpStore
	SessionStore
	Close()
}
