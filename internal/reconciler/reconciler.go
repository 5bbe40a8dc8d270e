// Package reconciler consumes normalized payment events and settles them
// against ledger records. It is the only writer of the pre-payment -> paid
// transition and is correct under duplicate delivery and arbitrary
// interleaving across networks.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"crossrail/internal/journal"
	"crossrail/internal/metrics"
	"crossrail/internal/models"
	"crossrail/internal/notify"
	"crossrail/internal/store"

	"go.uber.org/zap"
)

type Reconciler struct {
	events   store.EventStore
	records  store.RecordStore
	notifier notify.Notifier
	journal  *journal.Journal
	cfg      models.ReconcilerConfig
}

func New(events store.EventStore, records store.RecordStore, notifier notify.Notifier, journal *journal.Journal, cfg models.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		events:   events,
		records:  records,
		notifier: notifier,
		journal:  journal,
		cfg:      cfg,
	}
}

// Run consumes the intake channel until it closes or ctx is cancelled. A
// failed reconcile leaves the event unprocessed; it will be picked up again
// by startup replay.
func (r *Reconciler) Run(ctx context.Context, intake <-chan models.PaymentEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-intake:
			if !ok {
				return
			}
			if err := r.Reconcile(ctx, event); err != nil {
				zap.L().Error("Failed to reconcile payment event",
					zap.String("tx_hash", event.TransactionHash),
					zap.String("network", event.SourceNetwork),
					zap.Error(err))
			}
		}
	}
}

// Replay re-feeds events that were persisted but never processed, typically
// after a crash between upsert and completion.
func (r *Reconciler) Replay(ctx context.Context, batch int) error {
	events, err := r.events.ListUnprocessedEvents(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	zap.L().Info("Replaying unprocessed payment events", zap.Int("count", len(events)))
	for _, event := range events {
		if err := r.Reconcile(ctx, event); err != nil {
			zap.L().Error("Failed to replay payment event",
				zap.String("tx_hash", event.TransactionHash),
				zap.Error(err))
		}
	}
	return nil
}

// Reconcile settles one payment event. Identity is the
// (transactionHash, settlementReference, sourceNetwork) tuple; any failure
// before the event is marked processed leaves it eligible for redelivery.
func (r *Reconciler) Reconcile(ctx context.Context, event models.PaymentEvent) error {
	key := store.EventKey{
		TransactionHash:     event.TransactionHash,
		SettlementReference: event.SettlementReference,
		SourceNetwork:       event.SourceNetwork,
	}

	existing, err := r.events.GetPaymentEvent(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil && existing.Processed {
		metrics.DuplicateEvents.WithLabelValues(event.SourceNetwork).Inc()
		zap.L().Debug("Skipping already processed event",
			zap.String("tx_hash", event.TransactionHash),
			zap.String("network", event.SourceNetwork))
		return nil
	}

	if err := r.events.UpsertPaymentEvent(ctx, event); err != nil {
		return err
	}

	reference, err := models.ParseSettlementReference(event.SettlementReference)
	if err != nil {
		return r.drop(ctx, key, event, err.Error())
	}

	record, err := r.records.GetLedgerRecord(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return r.drop(ctx, key, event,
			fmt.Sprintf("no %s record with id %s", reference.Kind, reference.Id))
	}
	if err != nil {
		metrics.EventsReconciled.WithLabelValues(event.SourceNetwork, metrics.OutcomeError).Inc()
		return err
	}

	if record.Status == models.RecordCancelled {
		zap.L().Warn("Payment received for cancelled record",
			zap.String("kind", string(record.Kind)),
			zap.String("id", record.Id),
			zap.String("tx_hash", event.TransactionHash),
			zap.String("amount", event.GrossAmount.String()))
		if err := r.events.MarkEventProcessed(ctx, key); err != nil {
			return err
		}
		metrics.EventsReconciled.WithLabelValues(event.SourceNetwork, metrics.OutcomeNoop).Inc()
		return nil
	}

	won := false
	if record.Status.IsPrePayment() {
		won, err = r.records.MarkRecordPaid(ctx, store.MarkRecordPaidParams{
			Reference: reference,
			TxHash:    event.TransactionHash,
			Amount:    event.GrossAmount,
			PaidAt:    event.BlockTimestamp,
		})
		if err != nil {
			metrics.EventsReconciled.WithLabelValues(event.SourceNetwork, metrics.OutcomeError).Inc()
			return err
		}
	}

	if won {
		if !event.GrossAmount.Equal(record.Amount) {
			zap.L().Warn("Settlement amount differs from record amount",
				zap.String("kind", string(record.Kind)),
				zap.String("id", record.Id),
				zap.String("expected", record.Amount.String()),
				zap.String("received", event.GrossAmount.String()))
		}
		zap.L().Info("Record marked paid",
			zap.String("kind", string(record.Kind)),
			zap.String("id", record.Id),
			zap.String("tx_hash", event.TransactionHash),
			zap.String("network", event.SourceNetwork),
			zap.String("amount", event.GrossAmount.String()))

		if err := r.journal.RecordSettlement(ctx, &event); err != nil {
			// The journal is a mirror, not the source of truth.
			zap.L().Warn("Failed to record settlement in journal", zap.Error(err))
		}
	}

	if err := r.events.MarkEventProcessed(ctx, key); err != nil {
		return err
	}

	r.notifyOnce(ctx, key, event, record)

	outcome := metrics.OutcomeNoop
	if won {
		outcome = metrics.OutcomePaid
	}
	metrics.EventsReconciled.WithLabelValues(event.SourceNetwork, outcome).Inc()
	return nil
}

// drop records a permanent failure: the event is marked processed with the
// reason so it is never replayed.
func (r *Reconciler) drop(ctx context.Context, key store.EventKey, event models.PaymentEvent, reason string) error {
	zap.L().Warn("Dropping unreconcilable payment event",
		zap.String("tx_hash", event.TransactionHash),
		zap.String("reference", event.SettlementReference),
		zap.String("network", event.SourceNetwork),
		zap.String("reason", reason))

	if err := r.events.MarkEventDropped(ctx, key, reason); err != nil {
		return err
	}
	metrics.EventsReconciled.WithLabelValues(event.SourceNetwork, metrics.OutcomeDropped).Inc()
	return nil
}

// notifyOnce dispatches the payment-received notification at most once per
// event, tracked by the notified flag. Failures are logged and swallowed;
// they never unwind the settlement.
func (r *Reconciler) notifyOnce(ctx context.Context, key store.EventKey, event models.PaymentEvent, record *models.LedgerRecord) {
	existing, err := r.events.GetPaymentEvent(ctx, key)
	if err != nil {
		zap.L().Warn("Failed to check notification state", zap.Error(err))
		return
	}
	if existing.Notified {
		return
	}

	err = r.notifier.Send(ctx, r.cfg.NotifyChannel, record.UserId, notify.TemplatePaymentReceived, map[string]string{
		"kind":      string(record.Kind),
		"record_id": record.Id,
		"title":     record.Title,
		"amount":    event.GrossAmount.String(),
		"token":     event.TokenSymbol,
		"network":   event.SourceNetwork,
		"tx_hash":   event.TransactionHash,
	})
	if err != nil {
		zap.L().Warn("Failed to send payment notification",
			zap.String("record_id", record.Id),
			zap.Error(err))
		return
	}

	if err := r.events.MarkEventNotified(ctx, key); err != nil {
		zap.L().Warn("Failed to mark event notified", zap.Error(err))
	}
}
