// Package journal mirrors settlement activity into a Formance Stack ledger
// for finance reporting. The SQLite tables stay the source of truth; journal
// writes are best effort and idempotent on the transaction reference.
package journal

import (
	"context"
	"errors"
	"fmt"

	"crossrail/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// assetPrecision maps token and currency symbols to their decimal precision.
var assetPrecision = map[string]int32{
	"USDC": 6,
	"USDT": 6,
	"DAI":  18,
	"NGN":  2,
	"KES":  2,
	"GHS":  2,
	"USD":  2,
}

const numscriptSettlement = `vars {
  asset $asset
  number $gross
  number $fee
  account $payee
  string $tx_hash
  string $network
  string $reference
}

send [$asset $gross] (
  source = @chain:$network:settlements allowing unbounded overdraft
  destination = @users:$payee
)

send [$asset $fee] (
  source = @users:$payee
  destination = @platform:fees
)

set_tx_meta("event_type", "settlement")
set_tx_meta("tx_hash", $tx_hash)
set_tx_meta("network", $network)
set_tx_meta("settlement_reference", $reference)
`

const numscriptPayout = `vars {
  asset $asset
  number $amount
  account $user
  string $offramp_id
  string $payout_order_id
  string $currency
}

send [$asset $amount] (
  source = @users:$user allowing unbounded overdraft
  destination = @partner:payouts
)

set_tx_meta("event_type", "offramp_payout")
set_tx_meta("offramp_id", $offramp_id)
set_tx_meta("payout_order_id", $payout_order_id)
set_tx_meta("currency", $currency)
`

// Journal records settlement and payout movements. A nil *Journal is a valid
// disabled journal; every method is a no-op on it.
type Journal struct {
	client *v3.Formance
	ledger string
}

func NewJournal(ctx context.Context, cfg models.JournalConfig) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("journal config requires StackURL, ClientID, and ClientSecret")
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	journal := &Journal{client: client, ledger: cfg.LedgerName}
	if err := journal.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}
	return journal, nil
}

func (j *Journal) ensureLedger(ctx context.Context) error {
	_, err := j.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: j.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "crossrail",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", j.ledger))
	return nil
}

// RecordSettlement mirrors one reconciled payment event. The reference is
// derived from the event identity so redelivery is a conflict, not a double
// entry.
func (j *Journal) RecordSettlement(ctx context.Context, event *models.PaymentEvent) error {
	if j == nil {
		return nil
	}

	net := event.GrossAmount.Sub(event.PlatformFee)
	if net.IsNegative() {
		return fmt.Errorf("platform fee %s exceeds gross amount %s", event.PlatformFee, event.GrossAmount)
	}

	reference := fmt.Sprintf("settlement-%s-%s-%s",
		event.SourceNetwork, event.TransactionHash, event.SettlementReference)

	_, err := j.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: j.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: v3.Pointer(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptSettlement,
				Vars: map[string]string{
					"asset":     formanceAsset(event.TokenSymbol),
					"gross":     toMinorUnits(event.GrossAmount, event.TokenSymbol),
					"fee":       toMinorUnits(event.PlatformFee, event.TokenSymbol),
					"payee":     event.Payee,
					"tx_hash":   event.TransactionHash,
					"network":   event.SourceNetwork,
					"reference": event.SettlementReference,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil
		}
		return fmt.Errorf("error recording settlement: %w", err)
	}

	zap.L().Info("Settlement recorded in journal",
		zap.String("tx_hash", event.TransactionHash),
		zap.String("network", event.SourceNetwork))
	return nil
}

// RecordPayout mirrors one off-ramp payout. Idempotent on the off-ramp
// transaction id.
func (j *Journal) RecordPayout(ctx context.Context, tx *models.OfframpTransaction) error {
	if j == nil {
		return nil
	}

	reference := "payout-" + tx.Id

	_, err := j.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: j.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: v3.Pointer(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptPayout,
				Vars: map[string]string{
					"asset":           formanceAsset(tx.SourceToken),
					"amount":          toMinorUnits(tx.SourceAmount, tx.SourceToken),
					"user":            tx.UserId,
					"offramp_id":      tx.Id,
					"payout_order_id": tx.PayoutOrderId,
					"currency":        tx.FiatCurrency,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil
		}
		return fmt.Errorf("error recording payout: %w", err)
	}

	zap.L().Info("Payout recorded in journal",
		zap.String("offramp_id", tx.Id),
		zap.String("payout_order_id", tx.PayoutOrderId))
	return nil
}

func precisionFor(symbol string) int32 {
	if p, ok := assetPrecision[symbol]; ok {
		return p
	}
	return 6
}

// formanceAsset returns the Formance UMN notation, e.g. "USDC/6".
func formanceAsset(symbol string) string {
	return fmt.Sprintf("%s/%d", symbol, precisionFor(symbol))
}

func toMinorUnits(amount decimal.Decimal, symbol string) string {
	return amount.Shift(precisionFor(symbol)).BigInt().String()
}

// isConflictError checks whether a Formance SDK error is a CONFLICT
// (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}
