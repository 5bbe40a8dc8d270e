// Package offramp orchestrates the token to fiat payout saga: validation,
// compliance, balance selection, partner order, on-chain transfer, and payout.
// Status transitions are forward-only; the single backward edge is an
// explicit retry of a failed transaction.
package offramp

import (
	"context"
	"errors"
	"fmt"

	"crossrail/internal/common"
	"crossrail/internal/custody"
	"crossrail/internal/kyc"
	"crossrail/internal/metrics"
	"crossrail/internal/models"
	"crossrail/internal/partner"
	"crossrail/internal/retry"
	"crossrail/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotRetryable is returned when a retry is requested for a transaction
// whose funds already reached the partner; the status poller owns it from
// there.
var ErrNotRetryable = errors.New("transaction cannot be retried after funds were sent")

// StageError is a typed pipeline failure carrying the stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) *StageError {
	metrics.OfframpStageFailures.WithLabelValues(stage).Inc()
	return &StageError{Stage: stage, Err: err}
}

// PartnerAPI is the slice of the liquidity partner client the orchestrator
// uses.
type PartnerAPI interface {
	GetRate(ctx context.Context, token, currency string) (*partner.RateQuote, error)
	VerifyBankAccount(ctx context.Context, accountNumber, bankCode string) (*partner.BankAccount, error)
	CreateOrder(ctx context.Context, tx *models.OfframpTransaction) (*partner.Order, error)
	CreatePayout(ctx context.Context, orderId, reference string) (*partner.Payout, error)
	GetOrderStatus(ctx context.Context, orderId string) (*partner.OrderStatus, error)
}

// KYCChecker is the compliance lookup used by the optional gate.
type KYCChecker interface {
	GetStatus(ctx context.Context, userId string) (kyc.Status, error)
}

// StartParams is the validated user request to off-ramp tokens to fiat.
type StartParams struct {
	UserId      string
	Amount      decimal.Decimal
	Token       string
	Currency    string
	BankDetails models.BankDetails
}

type Orchestrator struct {
	offramps store.OfframpStore
	registry *common.NetworkRegistry
	custody  custody.Service
	partner  PartnerAPI
	kyc      KYCChecker
	cfg      models.OfframpConfig
	retry    retry.Policy
}

func NewOrchestrator(
	offramps store.OfframpStore,
	registry *common.NetworkRegistry,
	custodySvc custody.Service,
	partnerAPI PartnerAPI,
	kycChecker KYCChecker,
	cfg models.OfframpConfig,
	retryCfg models.RetryConfig,
) *Orchestrator {
	return &Orchestrator{
		offramps: offramps,
		registry: registry,
		custody:  custodySvc,
		partner:  partnerAPI,
		kyc:      kycChecker,
		cfg:      cfg,
		retry: retry.Policy{
			MaxAttempts: retryCfg.MaxAttempts,
			BaseDelay:   retryCfg.BaseDelay,
			MaxDelay:    retryCfg.MaxDelay,
			Classify:    partner.IsRetryable,
		},
	}
}

// Start runs the full pipeline for a new off-ramp request. Failures before
// the transaction row exists return an error with no state to clean up;
// failures after mark the row failed with the stage recorded.
func (o *Orchestrator) Start(ctx context.Context, params StartParams) (*models.OfframpTransaction, error) {
	network, err := o.preparePipeline(ctx, params)
	if err != nil {
		return nil, err
	}

	rate, fiatAmount, err := o.quote(ctx, params)
	if err != nil {
		return nil, err
	}

	tx, err := o.offramps.CreateOfframpTransaction(ctx, store.CreateOfframpParams{
		Id:            uuid.New().String(),
		UserId:        params.UserId,
		SourceAmount:  params.Amount,
		SourceToken:   params.Token,
		SourceNetwork: network,
		FiatAmount:    fiatAmount,
		FiatCurrency:  params.Currency,
		Rate:          rate,
		BankDetails:   params.BankDetails,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist offramp transaction: %w", err)
	}

	if err := o.resume(ctx, tx); err != nil {
		return o.failTransaction(ctx, tx.Id, err)
	}
	return o.offramps.GetOfframpTransaction(ctx, tx.Id)
}

// preparePipeline runs the pre-persistence stages: validation, the optional
// compliance gate, balance selection, and bank verification. It returns the
// chosen source network.
func (o *Orchestrator) preparePipeline(ctx context.Context, params StartParams) (string, error) {
	if err := o.validate(params); err != nil {
		return "", stageErr(models.StageValidation, err)
	}

	if o.cfg.KYCGateEnabled {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		status, err := o.kyc.GetStatus(stageCtx, params.UserId)
		cancel()
		if err != nil {
			return "", stageErr(models.StageComplianceCheck, err)
		}
		if status != kyc.StatusVerified {
			return "", stageErr(models.StageComplianceCheck,
				fmt.Errorf("identity verification is %s; complete verification before withdrawing", status))
		}
	}

	network, err := o.selectNetwork(ctx, params)
	if err != nil {
		return "", stageErr(models.StageBalanceCheck, err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	_, err = o.partner.VerifyBankAccount(stageCtx, params.BankDetails.AccountNumber, params.BankDetails.BankCode)
	cancel()
	if err != nil {
		if partner.IsInvalidAccount(err) {
			return "", stageErr(models.StageBankVerification,
				fmt.Errorf("invalid bank details: account could not be verified"))
		}
		return "", stageErr(models.StageBankVerification, err)
	}

	return network, nil
}

func (o *Orchestrator) validate(params StartParams) error {
	if params.Amount.IsZero() || params.Amount.IsNegative() {
		return fmt.Errorf("amount must be positive")
	}
	token, ok := o.registry.Token(params.Token)
	if !ok {
		return fmt.Errorf("token %s is not supported", params.Token)
	}
	if len(o.registry.NetworksForToken(token.Symbol)) == 0 {
		return fmt.Errorf("token %s is not available on any supported network", params.Token)
	}
	if !o.registry.SupportsCurrency(params.Currency) {
		return fmt.Errorf("currency %s is not supported for payouts", params.Currency)
	}
	if min := o.registry.MinOfframpAmount(params.Token); params.Amount.LessThan(min) {
		return fmt.Errorf("amount %s is below the %s minimum of %s", params.Amount, params.Token, min)
	}
	if params.BankDetails.AccountNumber == "" || params.BankDetails.BankCode == "" {
		return fmt.Errorf("bank account number and bank code are required")
	}
	return nil
}

// selectNetwork checks candidate networks in priority order and picks the
// first with sufficient balance.
func (o *Orchestrator) selectNetwork(ctx context.Context, params StartParams) (string, error) {
	networks := o.registry.NetworksForToken(params.Token)

	var checked []string
	for _, network := range networks {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		wallet, err := o.custody.GetOrCreateWallet(stageCtx, params.UserId, params.Token, network.Name)
		if err != nil {
			cancel()
			return "", err
		}
		balance, err := o.custody.GetBalance(stageCtx, wallet)
		cancel()
		if err != nil {
			return "", err
		}

		if balance.Amount.GreaterThanOrEqual(params.Amount) {
			zap.L().Info("Selected source network",
				zap.String("user_id", params.UserId),
				zap.String("token", params.Token),
				zap.String("network", network.Name),
				zap.String("balance", balance.Amount.String()))
			return network.Name, nil
		}
		checked = append(checked, network.Name)
	}

	return "", fmt.Errorf("insufficient %s balance across all supported networks %v", params.Token, checked)
}

func (o *Orchestrator) quote(ctx context.Context, params StartParams) (decimal.Decimal, decimal.Decimal, error) {
	var quote *partner.RateQuote
	err := o.retry.Do(ctx, "partner-get-rate", func() error {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
		var err error
		quote, err = o.partner.GetRate(stageCtx, params.Token, params.Currency)
		return err
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, stageErr(models.StageRateQuote, err)
	}
	return quote.Rate, params.Amount.Mul(quote.Rate), nil
}

// resume drives a pending transaction through order creation, the on-chain
// transfer, and payout creation, skipping stages that already completed. It
// is shared by Start and Retry.
func (o *Orchestrator) resume(ctx context.Context, tx *models.OfframpTransaction) error {
	if tx.OrderId == "" {
		var order *partner.Order
		err := o.retry.Do(ctx, "partner-create-order", func() error {
			stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
			defer cancel()
			var err error
			order, err = o.partner.CreateOrder(stageCtx, tx)
			return err
		})
		if err != nil {
			return stageErr(models.StageOrderCreation, err)
		}
		if err := o.offramps.SetOfframpOrder(ctx, tx.Id, order.OrderId, order.ReceiveAddress); err != nil {
			return stageErr(models.StageOrderCreation, err)
		}
		tx.OrderId = order.OrderId
		tx.ReceiveAddress = order.ReceiveAddress
	}

	if tx.ChainTxHash == "" {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		chainTxHash, err := o.custody.TransferToken(stageCtx, custody.TransferParams{
			UserId:             tx.UserId,
			Token:              tx.SourceToken,
			Network:            tx.SourceNetwork,
			Amount:             tx.SourceAmount,
			DestinationAddress: tx.ReceiveAddress,
			IdempotencyKey:     tx.Id,
		})
		cancel()
		if err != nil {
			return stageErr(models.StageChainTransfer, err)
		}

		ok, err := o.offramps.SetOfframpChainTx(ctx, tx.Id, chainTxHash)
		if err != nil {
			return stageErr(models.StageChainTransfer, err)
		}
		if !ok {
			// Another worker already recorded a transfer; this path must
			// never move funds twice.
			return stageErr(models.StageChainTransfer, store.ErrConcurrentModification)
		}
		tx.ChainTxHash = chainTxHash
		tx.Status = models.OfframpProcessing
	} else if tx.Status == models.OfframpPending {
		// Funds already moved on a prior attempt; just advance the status.
		ok, err := o.offramps.TransitionOfframpStatus(ctx, tx.Id, models.OfframpPending, models.OfframpProcessing)
		if err != nil {
			return stageErr(models.StageChainTransfer, err)
		}
		if !ok {
			return stageErr(models.StageChainTransfer, store.ErrConcurrentModification)
		}
		tx.Status = models.OfframpProcessing
	}

	if tx.PayoutOrderId == "" {
		var payout *partner.Payout
		err := o.retry.Do(ctx, "partner-create-payout", func() error {
			stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
			defer cancel()
			var err error
			payout, err = o.partner.CreatePayout(stageCtx, tx.OrderId, tx.Id)
			return err
		})
		if err != nil {
			return stageErr(models.StagePayoutCreation, err)
		}
		if err := o.offramps.SetOfframpPayout(ctx, tx.Id, payout.PayoutOrderId); err != nil {
			return stageErr(models.StagePayoutCreation, err)
		}
		tx.PayoutOrderId = payout.PayoutOrderId
	}

	return nil
}

// failTransaction records a pipeline failure on the row and returns the
// original error.
func (o *Orchestrator) failTransaction(ctx context.Context, id string, pipelineErr error) (*models.OfframpTransaction, error) {
	stage := "unknown"
	var se *StageError
	if errors.As(pipelineErr, &se) {
		stage = se.Stage
	}

	if err := o.offramps.MarkOfframpFailed(ctx, id, stage, pipelineErr.Error()); err != nil {
		zap.L().Error("Failed to record offramp failure",
			zap.String("id", id),
			zap.Error(err))
	}
	metrics.OfframpsFailed.Inc()
	return nil, pipelineErr
}

// Retry re-enters the pipeline for a failed transaction. If no transfer was
// broadcast the chain hash, partner order, and deposit address are cleared,
// the balance and rate are re-checked, and a fresh order is created for the
// selected network; if funds already moved the pipeline resumes at payout
// creation and never transfers again. Once a payout order exists the poller
// owns the outcome and retry is refused.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*models.OfframpTransaction, error) {
	tx, err := o.offramps.GetOfframpTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.OfframpFailed {
		return nil, fmt.Errorf("transaction %s is %s; only failed transactions can be retried", id, tx.Status)
	}
	if tx.ChainTxHash != "" && tx.PayoutOrderId != "" {
		return nil, ErrNotRetryable
	}

	clearChainTx := tx.ChainTxHash == ""
	ok, err := o.offramps.ResetOfframpForRetry(ctx, id, clearChainTx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("transaction %s is no longer failed", id)
	}

	tx, err = o.offramps.GetOfframpTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if clearChainTx {
		// Balance and price may have changed since the original attempt, and
		// the reset discarded the old order, so re-select the network and
		// re-quote before the fresh order is created.
		params := StartParams{
			UserId:   tx.UserId,
			Amount:   tx.SourceAmount,
			Token:    tx.SourceToken,
			Currency: tx.FiatCurrency,
		}
		network, err := o.selectNetwork(ctx, params)
		if err != nil {
			return o.failTransaction(ctx, tx.Id, stageErr(models.StageBalanceCheck, err))
		}

		rate, fiatAmount, err := o.quote(ctx, params)
		if err != nil {
			return o.failTransaction(ctx, tx.Id, err)
		}

		if err := o.offramps.SetOfframpQuote(ctx, tx.Id, network, rate, fiatAmount); err != nil {
			return o.failTransaction(ctx, tx.Id, stageErr(models.StageRateQuote, err))
		}
		tx.SourceNetwork = network
		tx.Rate = rate
		tx.FiatAmount = fiatAmount
	}

	zap.L().Info("Retrying offramp transaction",
		zap.String("id", id),
		zap.Bool("funds_already_moved", !clearChainTx))

	if err := o.resume(ctx, tx); err != nil {
		return o.failTransaction(ctx, tx.Id, err)
	}
	return o.offramps.GetOfframpTransaction(ctx, tx.Id)
}

// Cancel aborts a transaction that has not yet moved funds.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	ok, err := o.offramps.CancelOfframp(ctx, id, "cancelled by user")
	if err != nil {
		return err
	}
	if !ok {
		tx, err := o.offramps.GetOfframpTransaction(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("transaction %s is %s; cancellation is only possible before funds move", id, tx.Status)
	}
	return nil
}

// Status returns the current state of a transaction.
func (o *Orchestrator) Status(ctx context.Context, id string) (*models.OfframpTransaction, error) {
	return o.offramps.GetOfframpTransaction(ctx, id)
}
