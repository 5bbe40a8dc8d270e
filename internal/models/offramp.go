package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfframpStatus is the forward-only state machine of an off-ramp saga:
// pending -> processing -> {completed | failed}. The single allowed backward
// transition is failed -> pending, and only through an explicit retry.
type OfframpStatus string

const (
	OfframpPending    OfframpStatus = "pending"
	OfframpProcessing OfframpStatus = "processing"
	OfframpCompleted  OfframpStatus = "completed"
	OfframpFailed     OfframpStatus = "failed"
)

// Pipeline stage names, recorded in OfframpTransaction.ErrorStep so a retry
// can resume intelligently instead of restarting blindly.
const (
	StageValidation       = "validation"
	StageComplianceCheck  = "compliance_check"
	StageBalanceCheck     = "balance_check"
	StageBankVerification = "bank_verification"
	StageRateQuote        = "rate_quote"
	StageOrderCreation    = "order_creation"
	StageChainTransfer    = "chain_transfer"
	StagePayoutCreation   = "payout_creation"
	StageStatusPoll       = "status_poll"
	StageCancellation     = "cancellation"
)

// BankDetails is the payout destination collected from the user.
type BankDetails struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
}

// OfframpTransaction is the persisted state of one token -> fiat payout saga.
type OfframpTransaction struct {
	Id             string          `db:"id"`
	UserId         string          `db:"user_id"`
	SourceAmount   decimal.Decimal `db:"source_amount"`
	SourceToken    string          `db:"source_token"`
	SourceNetwork  string          `db:"source_network"`
	FiatAmount     decimal.Decimal `db:"fiat_amount"`
	FiatCurrency   string          `db:"fiat_currency"`
	Rate           decimal.Decimal `db:"rate"`
	BankDetails    BankDetails     `db:"bank_details"`
	Status         OfframpStatus   `db:"status"`
	OrderId        string          `db:"order_id"`
	ReceiveAddress string          `db:"receive_address"`
	ChainTxHash    string          `db:"chain_tx_hash"`
	PayoutOrderId  string          `db:"payout_order_id"`
	ErrorStep      string          `db:"error_step"`
	ErrorMessage   string          `db:"error_message"`
	Version        int64           `db:"version"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// SessionStep is the ordered conversational step of an off-ramp session.
type SessionStep string

const (
	StepAmount            SessionStep = "amount"
	StepPayoutMethod      SessionStep = "payout_method"
	StepBankSelection     SessionStep = "bank_selection"
	StepAccountNumber     SessionStep = "account_number"
	StepConfirmation      SessionStep = "confirmation"
	StepFinalConfirmation SessionStep = "final_confirmation"
	StepProcessing        SessionStep = "processing"
	StepCompleted         SessionStep = "completed"
)

var sessionStepOrder = map[SessionStep]int{
	StepAmount:            0,
	StepPayoutMethod:      1,
	StepBankSelection:     2,
	StepAccountNumber:     3,
	StepConfirmation:      4,
	StepFinalConfirmation: 5,
	StepProcessing:        6,
	StepCompleted:         7,
}

// Valid reports whether s is a known session step.
func (s SessionStep) Valid() bool {
	_, ok := sessionStepOrder[s]
	return ok
}

// Index returns the position of the step in the flow, -1 if unknown.
func (s SessionStep) Index() int {
	if i, ok := sessionStepOrder[s]; ok {
		return i
	}
	return -1
}

// OfframpSession is the in-progress conversational state used by the
// front-end to collect orchestrator inputs across turns. ExpiresAt is fixed
// at creation and never extended by activity.
type OfframpSession struct {
	Id        string            `db:"id"`
	UserId    string            `db:"user_id"`
	Step      SessionStep       `db:"step"`
	Data      map[string]string `db:"data"`
	CreatedAt time.Time         `db:"created_at"`
	UpdatedAt time.Time         `db:"updated_at"`
	ExpiresAt time.Time         `db:"expires_at"`
}

// Expired reports whether the session is past its hard TTL.
func (s *OfframpSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
