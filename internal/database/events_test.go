package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"crossrail/internal/models"
	"crossrail/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	service, err := NewServiceFromDB(db)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return service, cleanup
}

func testEvent(txHash, reference, network string) models.PaymentEvent {
	return models.PaymentEvent{
		TransactionHash:     txHash,
		SettlementReference: reference,
		SourceNetwork:       network,
		Payer:               "0xpayer",
		Payee:               "0xpayee",
		TokenAddress:        "0xtoken",
		TokenSymbol:         "USDC",
		GrossAmount:         decimal.NewFromFloat(100.5),
		PlatformFee:         decimal.NewFromFloat(0.5),
		BlockNumber:         42,
		BlockTimestamp:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func eventKey(e models.PaymentEvent) store.EventKey {
	return store.EventKey{
		TransactionHash:     e.TransactionHash,
		SettlementReference: e.SettlementReference,
		SourceNetwork:       e.SourceNetwork,
	}
}

func TestUpsertPaymentEvent_DuplicateConverges(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	event := testEvent("0xabc", "invoice_inv1", "base")

	if err := service.UpsertPaymentEvent(ctx, event); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	// Redelivery with a different observed amount must not overwrite the
	// original row.
	duplicate := event
	duplicate.GrossAmount = decimal.NewFromInt(999)
	if err := service.UpsertPaymentEvent(ctx, duplicate); err != nil {
		t.Fatalf("Duplicate upsert failed: %v", err)
	}

	got, err := service.GetPaymentEvent(ctx, eventKey(event))
	if err != nil {
		t.Fatalf("GetPaymentEvent failed: %v", err)
	}
	if !got.GrossAmount.Equal(event.GrossAmount) {
		t.Errorf("Expected gross amount %s, got %s", event.GrossAmount, got.GrossAmount)
	}
	if got.Processed {
		t.Error("New event should not be processed")
	}
}

func TestUpsertPaymentEvent_DistinctNetworksAreDistinctEvents(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	onBase := testEvent("0xabc", "invoice_inv1", "base")
	onPolygon := testEvent("0xabc", "invoice_inv1", "polygon")

	if err := service.UpsertPaymentEvent(ctx, onBase); err != nil {
		t.Fatalf("Upsert on base failed: %v", err)
	}
	if err := service.UpsertPaymentEvent(ctx, onPolygon); err != nil {
		t.Fatalf("Upsert on polygon failed: %v", err)
	}

	events, err := service.ListUnprocessedEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessedEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
}

func TestMarkEventProcessed(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	event := testEvent("0xabc", "invoice_inv1", "base")
	key := eventKey(event)

	if err := service.UpsertPaymentEvent(ctx, event); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := service.MarkEventProcessed(ctx, key); err != nil {
		t.Fatalf("MarkEventProcessed failed: %v", err)
	}

	got, err := service.GetPaymentEvent(ctx, key)
	if err != nil {
		t.Fatalf("GetPaymentEvent failed: %v", err)
	}
	if !got.Processed {
		t.Error("Expected event to be processed")
	}

	events, err := service.ListUnprocessedEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessedEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no unprocessed events, got %d", len(events))
	}
}

func TestMarkEventDropped_RecordsReason(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	event := testEvent("0xabc", "garbage-reference", "base")
	key := eventKey(event)

	if err := service.UpsertPaymentEvent(ctx, event); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := service.MarkEventDropped(ctx, key, "unknown settlement reference"); err != nil {
		t.Fatalf("MarkEventDropped failed: %v", err)
	}

	got, err := service.GetPaymentEvent(ctx, key)
	if err != nil {
		t.Fatalf("GetPaymentEvent failed: %v", err)
	}
	if !got.Processed {
		t.Error("Dropped event must be marked processed so it is never replayed")
	}
	if got.ErrorMessage != "unknown settlement reference" {
		t.Errorf("Expected drop reason to be recorded, got %q", got.ErrorMessage)
	}
}

func TestMarkEventNotified(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	event := testEvent("0xabc", "invoice_inv1", "base")
	key := eventKey(event)

	if err := service.UpsertPaymentEvent(ctx, event); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := service.MarkEventNotified(ctx, key); err != nil {
		t.Fatalf("MarkEventNotified failed: %v", err)
	}

	got, err := service.GetPaymentEvent(ctx, key)
	if err != nil {
		t.Fatalf("GetPaymentEvent failed: %v", err)
	}
	if !got.Notified {
		t.Error("Expected event to be marked notified")
	}
}

func TestGetPaymentEvent_NotFound(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.GetPaymentEvent(context.Background(), store.EventKey{
		TransactionHash:     "0xmissing",
		SettlementReference: "invoice_x",
		SourceNetwork:       "base",
	})
	if err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMarkEventProcessed_MissingRow(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	err := service.MarkEventProcessed(context.Background(), store.EventKey{
		TransactionHash:     "0xmissing",
		SettlementReference: "invoice_x",
		SourceNetwork:       "base",
	})
	if err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
