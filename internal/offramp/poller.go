package offramp

import (
	"context"
	"time"

	"crossrail/internal/journal"
	"crossrail/internal/metrics"
	"crossrail/internal/models"
	"crossrail/internal/notify"
	"crossrail/internal/partner"
	"crossrail/internal/store"

	"go.uber.org/zap"
)

// partnerStatusMap folds the partner's status vocabulary into the internal
// three-state machine. Unknown statuses are left alone and logged.
var partnerStatusMap = map[string]models.OfframpStatus{
	"initiated":  models.OfframpProcessing,
	"pending":    models.OfframpProcessing,
	"processing": models.OfframpProcessing,
	"settling":   models.OfframpProcessing,
	"settled":    models.OfframpCompleted,
	"fulfilled":  models.OfframpCompleted,
	"completed":  models.OfframpCompleted,
	"success":    models.OfframpCompleted,
	"failed":     models.OfframpFailed,
	"refunded":   models.OfframpFailed,
	"expired":    models.OfframpFailed,
	"cancelled":  models.OfframpFailed,
}

// StatusPoller drives processing transactions to their terminal state by
// polling the partner on a fixed interval, independent of request handling.
type StatusPoller struct {
	offramps store.OfframpStore
	partner  PartnerAPI
	notifier notify.Notifier
	journal  *journal.Journal
	cfg      models.OfframpConfig

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewStatusPoller(offramps store.OfframpStore, partnerAPI PartnerAPI, notifier notify.Notifier, journal *journal.Journal, cfg models.OfframpConfig) *StatusPoller {
	return &StatusPoller{
		offramps: offramps,
		partner:  partnerAPI,
		notifier: notifier,
		journal:  journal,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (p *StatusPoller) Start(ctx context.Context) {
	go func() {
		defer close(p.doneChan)

		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		zap.L().Info("Offramp status poller started",
			zap.Duration("interval", p.cfg.PollInterval))

		for {
			select {
			case <-p.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

func (p *StatusPoller) Stop() {
	close(p.stopChan)
	<-p.doneChan
}

func (p *StatusPoller) poll(ctx context.Context) {
	txs, err := p.offramps.ListOfframpByStatus(ctx, models.OfframpProcessing, p.cfg.PollBatch)
	if err != nil {
		zap.L().Error("Failed to list processing transactions", zap.Error(err))
		return
	}

	for _, tx := range txs {
		if tx.PayoutOrderId == "" {
			// Still mid-pipeline; the orchestrator owns it until the payout
			// order exists.
			continue
		}
		p.pollOne(ctx, tx)
	}
}

func (p *StatusPoller) pollOne(ctx context.Context, tx models.OfframpTransaction) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	status, err := p.partner.GetOrderStatus(stageCtx, tx.OrderId)
	cancel()
	if err != nil {
		zap.L().Warn("Failed to poll order status",
			zap.String("id", tx.Id),
			zap.String("order_id", tx.OrderId),
			zap.Error(err))
		return
	}

	mapped, ok := partnerStatusMap[status.Status]
	if !ok {
		zap.L().Warn("Partner reported unknown order status",
			zap.String("id", tx.Id),
			zap.String("status", status.Status))
		return
	}

	switch mapped {
	case models.OfframpProcessing:
		// Nothing to do yet.
	case models.OfframpCompleted:
		p.complete(ctx, tx)
	case models.OfframpFailed:
		p.fail(ctx, tx, status)
	}
}

func (p *StatusPoller) complete(ctx context.Context, tx models.OfframpTransaction) {
	ok, err := p.offramps.TransitionOfframpStatus(ctx, tx.Id, models.OfframpProcessing, models.OfframpCompleted)
	if err != nil {
		zap.L().Error("Failed to complete transaction",
			zap.String("id", tx.Id),
			zap.Error(err))
		return
	}
	if !ok {
		return
	}

	metrics.OfframpsCompleted.Inc()
	zap.L().Info("Offramp transaction completed",
		zap.String("id", tx.Id),
		zap.String("payout_order_id", tx.PayoutOrderId))

	if err := p.journal.RecordPayout(ctx, &tx); err != nil {
		zap.L().Warn("Failed to record payout in journal", zap.Error(err))
	}

	err = p.notifier.Send(ctx, "push", tx.UserId, notify.TemplateOfframpCompleted, map[string]string{
		"transaction_id": tx.Id,
		"token_amount":   tx.SourceAmount.String(),
		"token":          tx.SourceToken,
		"fiat_amount":    tx.FiatAmount.String(),
		"currency":       tx.FiatCurrency,
		"bank_name":      tx.BankDetails.BankName,
		"account_number": tx.BankDetails.AccountNumber,
	})
	if err != nil {
		zap.L().Warn("Failed to send completion notification",
			zap.String("id", tx.Id),
			zap.Error(err))
	}
}

func (p *StatusPoller) fail(ctx context.Context, tx models.OfframpTransaction, status *partner.OrderStatus) {
	reason := status.Reason
	if reason == "" {
		reason = "payout " + status.Status
	}

	if err := p.offramps.MarkOfframpFailed(ctx, tx.Id, models.StageStatusPoll, reason); err != nil {
		zap.L().Error("Failed to mark transaction failed",
			zap.String("id", tx.Id),
			zap.Error(err))
		return
	}
	metrics.OfframpsFailed.Inc()

	// Funds already moved, so the user needs refund guidance rather than a
	// bare failure.
	err := p.notifier.Send(ctx, "push", tx.UserId, notify.TemplateOfframpFailed, map[string]string{
		"transaction_id": tx.Id,
		"reason":         reason,
		"guidance":       "your tokens were transferred; the partner will refund the order or support will reconcile it",
	})
	if err != nil {
		zap.L().Warn("Failed to send failure notification",
			zap.String("id", tx.Id),
			zap.Error(err))
	}
}
