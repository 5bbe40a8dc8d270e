package database

import (
	"context"
	"testing"
	"time"

	"crossrail/internal/models"
	"crossrail/internal/store"

	"github.com/shopspring/decimal"
)

func insertTestRecord(t *testing.T, service *Service, kind models.RecordKind, id string, status models.RecordStatus) {
	t.Helper()
	err := service.InsertLedgerRecord(context.Background(), models.LedgerRecord{
		Kind:        kind,
		Id:          id,
		UserId:      "user1",
		Title:       "Design work",
		Amount:      decimal.NewFromInt(250),
		TokenSymbol: "USDC",
		Status:      status,
	})
	if err != nil {
		t.Fatalf("InsertLedgerRecord failed: %v", err)
	}
}

func TestMarkRecordPaid_FromPending(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	insertTestRecord(t, service, models.KindInvoice, "inv1", models.RecordPending)

	paidAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ok, err := service.MarkRecordPaid(ctx, store.MarkRecordPaidParams{
		Reference: models.SettlementReference{Kind: models.KindInvoice, Id: "inv1"},
		TxHash:    "0xabc",
		Amount:    decimal.NewFromInt(250),
		PaidAt:    paidAt,
	})
	if err != nil {
		t.Fatalf("MarkRecordPaid failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected transition to succeed")
	}

	record, err := service.GetLedgerRecord(ctx, models.SettlementReference{Kind: models.KindInvoice, Id: "inv1"})
	if err != nil {
		t.Fatalf("GetLedgerRecord failed: %v", err)
	}
	if record.Status != models.RecordPaid {
		t.Errorf("Expected status paid, got %s", record.Status)
	}
	if record.PaymentTxHash != "0xabc" {
		t.Errorf("Expected tx hash 0xabc, got %s", record.PaymentTxHash)
	}
	if !record.PaidAmount.Equal(decimal.NewFromInt(250)) {
		t.Errorf("Expected paid amount 250, got %s", record.PaidAmount)
	}
	if record.Version != 2 {
		t.Errorf("Expected version bump to 2, got %d", record.Version)
	}
}

func TestMarkRecordPaid_FromDraft(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	insertTestRecord(t, service, models.KindProposal, "prop1", models.RecordDraft)

	ok, err := service.MarkRecordPaid(context.Background(), store.MarkRecordPaidParams{
		Reference: models.SettlementReference{Kind: models.KindProposal, Id: "prop1"},
		TxHash:    "0xdef",
		Amount:    decimal.NewFromInt(250),
		PaidAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("MarkRecordPaid failed: %v", err)
	}
	if !ok {
		t.Error("Draft records are payable and the transition should succeed")
	}
}

func TestMarkRecordPaid_OnlyOneWinner(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	insertTestRecord(t, service, models.KindInvoice, "inv1", models.RecordPending)
	ref := models.SettlementReference{Kind: models.KindInvoice, Id: "inv1"}

	first, err := service.MarkRecordPaid(ctx, store.MarkRecordPaidParams{
		Reference: ref, TxHash: "0xfirst", Amount: decimal.NewFromInt(250), PaidAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("First MarkRecordPaid failed: %v", err)
	}
	second, err := service.MarkRecordPaid(ctx, store.MarkRecordPaidParams{
		Reference: ref, TxHash: "0xsecond", Amount: decimal.NewFromInt(250), PaidAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Second MarkRecordPaid failed: %v", err)
	}

	if !first || second {
		t.Errorf("Expected exactly one winner, got first=%v second=%v", first, second)
	}

	record, err := service.GetLedgerRecord(ctx, ref)
	if err != nil {
		t.Fatalf("GetLedgerRecord failed: %v", err)
	}
	if record.PaymentTxHash != "0xfirst" {
		t.Errorf("Loser must not overwrite the winner, got tx hash %s", record.PaymentTxHash)
	}
}

func TestMarkRecordPaid_CancelledRecordUntouched(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	insertTestRecord(t, service, models.KindInvoice, "inv1", models.RecordCancelled)
	ref := models.SettlementReference{Kind: models.KindInvoice, Id: "inv1"}

	ok, err := service.MarkRecordPaid(ctx, store.MarkRecordPaidParams{
		Reference: ref, TxHash: "0xabc", Amount: decimal.NewFromInt(250), PaidAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("MarkRecordPaid failed: %v", err)
	}
	if ok {
		t.Error("Cancelled records must never transition to paid")
	}

	record, err := service.GetLedgerRecord(ctx, ref)
	if err != nil {
		t.Fatalf("GetLedgerRecord failed: %v", err)
	}
	if record.Status != models.RecordCancelled {
		t.Errorf("Expected status cancelled, got %s", record.Status)
	}
}

func TestGetLedgerRecord_NotFound(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.GetLedgerRecord(context.Background(), models.SettlementReference{
		Kind: models.KindPaymentLink, Id: "missing",
	})
	if err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
