package offramp

import (
	"context"
	"testing"

	"crossrail/internal/models"
)

func startProcessing(t *testing.T, f *fixture) *models.OfframpTransaction {
	t.Helper()
	tx, err := f.orchestrator.Start(context.Background(), startParams(50))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if tx.Status != models.OfframpProcessing {
		t.Fatalf("Expected processing, got %s", tx.Status)
	}
	return tx
}

func pollerFor(f *fixture, notifier *recordingNotifier) *StatusPoller {
	return NewStatusPoller(f.service, f.partner, notifier, nil, models.OfframpConfig{
		StageTimeout: f.orchestrator.cfg.StageTimeout,
		PollInterval: f.orchestrator.cfg.PollInterval,
		PollBatch:    f.orchestrator.cfg.PollBatch,
	})
}

func TestPoller_CompletesSettledOrders(t *testing.T) {
	f := setup(t)
	defer f.cleanup()

	tx := startProcessing(t, f)
	notifier := &recordingNotifier{}
	poller := pollerFor(f, notifier)

	f.partner.orderStatus = "settled"
	poller.poll(context.Background())

	got, err := f.orchestrator.Status(context.Background(), tx.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.Status != models.OfframpCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "offramp_completed" {
		t.Errorf("Expected completion notification, got %v", notifier.sent)
	}
}

func TestPoller_InFlightStatusesAreNoops(t *testing.T) {
	f := setup(t)
	defer f.cleanup()

	tx := startProcessing(t, f)
	notifier := &recordingNotifier{}
	poller := pollerFor(f, notifier)

	for _, status := range []string{"initiated", "pending", "settling", "something-new"} {
		f.partner.orderStatus = status
		poller.poll(context.Background())
	}

	got, err := f.orchestrator.Status(context.Background(), tx.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.Status != models.OfframpProcessing {
		t.Errorf("Expected still processing, got %s", got.Status)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("In-flight statuses must not notify, got %v", notifier.sent)
	}
}

func TestPoller_FailsRefundedOrders(t *testing.T) {
	f := setup(t)
	defer f.cleanup()

	tx := startProcessing(t, f)
	notifier := &recordingNotifier{}
	poller := pollerFor(f, notifier)

	f.partner.orderStatus = "refunded"
	f.partner.statusReason = "bank rejected the credit"
	poller.poll(context.Background())

	got, err := f.orchestrator.Status(context.Background(), tx.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.Status != models.OfframpFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.ErrorStep != models.StageStatusPoll {
		t.Errorf("Expected error step status_poll, got %s", got.ErrorStep)
	}
	if got.ErrorMessage != "bank rejected the credit" {
		t.Errorf("Expected partner reason recorded, got %q", got.ErrorMessage)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "offramp_failed" {
		t.Errorf("Expected failure notification, got %v", notifier.sent)
	}
}

func TestPoller_SkipsMidPipelineTransactions(t *testing.T) {
	f := setup(t)
	defer f.cleanup()

	tx := startProcessing(t, f)

	// Simulate a transaction whose payout was never created: wipe it back.
	if err := f.service.SetOfframpPayout(context.Background(), tx.Id, ""); err != nil {
		t.Fatalf("SetOfframpPayout failed: %v", err)
	}

	notifier := &recordingNotifier{}
	poller := pollerFor(f, notifier)
	f.partner.orderStatus = "settled"
	poller.poll(context.Background())

	got, err := f.orchestrator.Status(context.Background(), tx.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.Status != models.OfframpProcessing {
		t.Errorf("Poller must not touch transactions without a payout order, got %s", got.Status)
	}
}
