package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownReference is returned when a settlement reference cannot be
// resolved to any ledger record kind. It is permanent: the event can never
// match a record, so callers must drop it rather than retry.
var ErrUnknownReference = errors.New("unknown settlement reference")

// RecordKind identifies the ledger record variant a settlement reference
// points at.
type RecordKind string

const (
	KindInvoice     RecordKind = "invoice"
	KindProposal    RecordKind = "proposal"
	KindPaymentLink RecordKind = "payment_link"
)

// SettlementReference is the parsed form of the opaque reference embedded in
// an on-chain payment event. It is constructed once at reference-creation
// time and parsed once at reconciliation time.
type SettlementReference struct {
	Kind RecordKind
	Id   string
}

// String renders the wire format carried in the on-chain event:
// "invoice_<id>", "proposal_<id>", or a bare UUID for payment links.
func (r SettlementReference) String() string {
	switch r.Kind {
	case KindInvoice:
		return "invoice_" + r.Id
	case KindProposal:
		return "proposal_" + r.Id
	default:
		return r.Id
	}
}

// ParseSettlementReference resolves the wire format back into a tagged
// reference. A bare UUID means payment link. Anything else is
// ErrUnknownReference.
func ParseSettlementReference(raw string) (SettlementReference, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "invoice_"):
		id := strings.TrimPrefix(raw, "invoice_")
		if id == "" {
			return SettlementReference{}, fmt.Errorf("%w: empty invoice id in %q", ErrUnknownReference, raw)
		}
		return SettlementReference{Kind: KindInvoice, Id: id}, nil
	case strings.HasPrefix(raw, "proposal_"):
		id := strings.TrimPrefix(raw, "proposal_")
		if id == "" {
			return SettlementReference{}, fmt.Errorf("%w: empty proposal id in %q", ErrUnknownReference, raw)
		}
		return SettlementReference{Kind: KindProposal, Id: id}, nil
	default:
		if _, err := uuid.Parse(raw); err != nil {
			return SettlementReference{}, fmt.Errorf("%w: %q", ErrUnknownReference, raw)
		}
		return SettlementReference{Kind: KindPaymentLink, Id: raw}, nil
	}
}

// PaymentEvent is one observed on-chain settlement log, normalized across
// networks. Identity is (TransactionHash, SettlementReference, SourceNetwork);
// rows are never deleted - they are the audit trail and the dedup ledger.
type PaymentEvent struct {
	TransactionHash     string          `db:"transaction_hash"`
	SourceNetwork       string          `db:"source_network"`
	Payer               string          `db:"payer"`
	Payee               string          `db:"payee"`
	TokenAddress        string          `db:"token_address"`
	TokenSymbol         string          `db:"token_symbol"`
	GrossAmount         decimal.Decimal `db:"gross_amount"`
	PlatformFee         decimal.Decimal `db:"platform_fee"`
	SettlementReference string          `db:"settlement_reference"`
	BlockNumber         uint64          `db:"block_number"`
	BlockTimestamp      time.Time       `db:"block_timestamp"`
	Processed           bool            `db:"processed"`
	Notified            bool            `db:"notified"`
	ErrorMessage        string          `db:"error_message"`
	CreatedAt           time.Time       `db:"created_at"`
}

// RecordStatus is the payment lifecycle of a ledger record. Transitions are
// forward-only: once paid, a record never regresses.
type RecordStatus string

const (
	RecordDraft     RecordStatus = "draft"
	RecordPending   RecordStatus = "pending"
	RecordPaid      RecordStatus = "paid"
	RecordCancelled RecordStatus = "cancelled"
)

// IsPrePayment reports whether the reconciler may still transition the record
// to paid. Cancelled and paid records are out of reach.
func (s RecordStatus) IsPrePayment() bool {
	return s == RecordDraft || s == RecordPending
}

// LedgerRecord is an invoice, proposal, or payment link tracked for payment.
// The reconciler owns only the transition to paid; every other transition
// belongs to the surrounding CRUD system, so the core never assumes it is the
// sole writer.
type LedgerRecord struct {
	Kind          RecordKind      `db:"kind"`
	Id            string          `db:"id"`
	UserId        string          `db:"user_id"`
	Title         string          `db:"title"`
	Amount        decimal.Decimal `db:"amount"`
	TokenSymbol   string          `db:"token_symbol"`
	Status        RecordStatus    `db:"status"`
	PaymentTxHash string          `db:"payment_tx_hash"`
	PaidAmount    decimal.Decimal `db:"paid_amount"`
	PaidAt        time.Time       `db:"paid_at"`
	Version       int64           `db:"version"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Reference returns the tagged settlement reference for this record.
func (r *LedgerRecord) Reference() SettlementReference {
	return SettlementReference{Kind: r.Kind, Id: r.Id}
}
