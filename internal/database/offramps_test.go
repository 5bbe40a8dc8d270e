package database

import (
	"context"
	"testing"

	"crossrail/internal/models"
	"crossrail/internal/store"

	"github.com/shopspring/decimal"
)

func createTestOfframp(t *testing.T, service *Service, id string) *models.OfframpTransaction {
	t.Helper()
	tx, err := service.CreateOfframpTransaction(context.Background(), store.CreateOfframpParams{
		Id:            id,
		UserId:        "user1",
		SourceAmount:  decimal.NewFromInt(50),
		SourceToken:   "USDC",
		SourceNetwork: "base",
		FiatAmount:    decimal.NewFromInt(77500),
		FiatCurrency:  "NGN",
		Rate:          decimal.NewFromInt(1550),
		BankDetails: models.BankDetails{
			AccountNumber: "0123456789",
			BankCode:      "058",
			BankName:      "GTBank",
			AccountName:   "ADA OBI",
		},
	})
	if err != nil {
		t.Fatalf("CreateOfframpTransaction failed: %v", err)
	}
	return tx
}

func TestCreateOfframpTransaction(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	tx := createTestOfframp(t, service, "tx1")

	if tx.Status != models.OfframpPending {
		t.Errorf("Expected status pending, got %s", tx.Status)
	}
	if !tx.SourceAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected source amount 50, got %s", tx.SourceAmount)
	}
	if tx.BankDetails.AccountNumber != "0123456789" {
		t.Errorf("Bank details did not round-trip, got %+v", tx.BankDetails)
	}
	if tx.Version != 1 {
		t.Errorf("Expected version 1, got %d", tx.Version)
	}
}

func TestTransitionOfframpStatus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	ok, err := service.TransitionOfframpStatus(ctx, "tx1", models.OfframpPending, models.OfframpProcessing)
	if err != nil {
		t.Fatalf("TransitionOfframpStatus failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected pending -> processing to succeed")
	}

	// Second caller with the same expectation loses.
	ok, err = service.TransitionOfframpStatus(ctx, "tx1", models.OfframpPending, models.OfframpProcessing)
	if err != nil {
		t.Fatalf("TransitionOfframpStatus failed: %v", err)
	}
	if ok {
		t.Error("Expected stale transition to lose")
	}
}

func TestSetOfframpChainTx_OneShot(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	ok, err := service.SetOfframpChainTx(ctx, "tx1", "0xaaa")
	if err != nil {
		t.Fatalf("SetOfframpChainTx failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected first chain tx write to succeed")
	}

	tx, err := service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.Status != models.OfframpProcessing {
		t.Errorf("Expected status processing after chain tx, got %s", tx.Status)
	}
	if tx.ChainTxHash != "0xaaa" {
		t.Errorf("Expected chain tx 0xaaa, got %s", tx.ChainTxHash)
	}

	// A second write must be rejected, whatever hash it carries.
	ok, err = service.SetOfframpChainTx(ctx, "tx1", "0xbbb")
	if err != nil {
		t.Fatalf("SetOfframpChainTx failed: %v", err)
	}
	if ok {
		t.Error("Second chain tx write must be rejected")
	}

	tx, err = service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.ChainTxHash != "0xaaa" {
		t.Errorf("Chain tx hash must be immutable, got %s", tx.ChainTxHash)
	}
}

func TestMarkOfframpFailed(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	if err := service.MarkOfframpFailed(ctx, "tx1", models.StageBalanceCheck, "insufficient balance"); err != nil {
		t.Fatalf("MarkOfframpFailed failed: %v", err)
	}

	tx, err := service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.Status != models.OfframpFailed {
		t.Errorf("Expected status failed, got %s", tx.Status)
	}
	if tx.ErrorStep != models.StageBalanceCheck {
		t.Errorf("Expected error step %s, got %s", models.StageBalanceCheck, tx.ErrorStep)
	}

	// Failing a terminal transaction again is a concurrency bug.
	err = service.MarkOfframpFailed(ctx, "tx1", models.StageStatusPoll, "late failure")
	if err != store.ErrConcurrentModification {
		t.Errorf("Expected ErrConcurrentModification, got %v", err)
	}
}

func TestCancelOfframp_OnlyWhilePending(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")
	createTestOfframp(t, service, "tx2")

	ok, err := service.CancelOfframp(ctx, "tx1", "cancelled by user")
	if err != nil {
		t.Fatalf("CancelOfframp failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected pending transaction to cancel")
	}

	tx, err := service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.Status != models.OfframpFailed || tx.ErrorStep != models.StageCancellation {
		t.Errorf("Expected failed at cancellation, got status=%s step=%s", tx.Status, tx.ErrorStep)
	}

	// Once a transfer is broadcast, cancellation is rejected.
	ok, err = service.SetOfframpChainTx(ctx, "tx2", "0xaaa")
	if err != nil || !ok {
		t.Fatalf("SetOfframpChainTx failed: ok=%v err=%v", ok, err)
	}
	ok, err = service.CancelOfframp(ctx, "tx2", "cancelled by user")
	if err != nil {
		t.Fatalf("CancelOfframp failed: %v", err)
	}
	if ok {
		t.Error("Cancellation must be rejected after funds moved")
	}
}

func TestResetOfframpForRetry_ClearsChainTxAndOrder(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	// Failure after order creation but before the transfer broadcast.
	if err := service.SetOfframpOrder(ctx, "tx1", "order-9", "0xreceive"); err != nil {
		t.Fatalf("SetOfframpOrder failed: %v", err)
	}
	if err := service.MarkOfframpFailed(ctx, "tx1", models.StageChainTransfer, "rpc unavailable"); err != nil {
		t.Fatalf("MarkOfframpFailed failed: %v", err)
	}

	ok, err := service.ResetOfframpForRetry(ctx, "tx1", true)
	if err != nil {
		t.Fatalf("ResetOfframpForRetry failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected retry reset to succeed")
	}

	tx, err := service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.Status != models.OfframpPending {
		t.Errorf("Expected status pending, got %s", tx.Status)
	}
	if tx.ErrorStep != "" || tx.ErrorMessage != "" {
		t.Errorf("Expected error fields cleared, got step=%q message=%q", tx.ErrorStep, tx.ErrorMessage)
	}
	// The order and its deposit address must go with the chain hash: the
	// retry may select a different network and needs a fresh order.
	if tx.ChainTxHash != "" {
		t.Errorf("Expected chain tx hash cleared, got %q", tx.ChainTxHash)
	}
	if tx.OrderId != "" || tx.ReceiveAddress != "" {
		t.Errorf("Expected order cleared, got order=%q address=%q", tx.OrderId, tx.ReceiveAddress)
	}
}

func TestResetOfframpForRetry_KeepsChainTxWhenFundsMoved(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	if err := service.SetOfframpOrder(ctx, "tx1", "order-9", "0xreceive"); err != nil {
		t.Fatalf("SetOfframpOrder failed: %v", err)
	}
	ok, err := service.SetOfframpChainTx(ctx, "tx1", "0xaaa")
	if err != nil || !ok {
		t.Fatalf("SetOfframpChainTx failed: ok=%v err=%v", ok, err)
	}
	if err := service.MarkOfframpFailed(ctx, "tx1", models.StagePayoutCreation, "payout rejected"); err != nil {
		t.Fatalf("MarkOfframpFailed failed: %v", err)
	}

	ok, err = service.ResetOfframpForRetry(ctx, "tx1", false)
	if err != nil {
		t.Fatalf("ResetOfframpForRetry failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected retry reset to succeed")
	}

	tx, err := service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.ChainTxHash != "0xaaa" {
		t.Errorf("Expected chain tx hash preserved, got %q", tx.ChainTxHash)
	}
	if tx.OrderId != "order-9" || tx.ReceiveAddress != "0xreceive" {
		t.Errorf("Expected order preserved, got order=%q address=%q", tx.OrderId, tx.ReceiveAddress)
	}
	if tx.PayoutOrderId != "" {
		t.Errorf("Expected payout order cleared, got %q", tx.PayoutOrderId)
	}
}

func TestResetOfframpForRetry_OnlyFromFailed(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	ok, err := service.ResetOfframpForRetry(ctx, "tx1", true)
	if err != nil {
		t.Fatalf("ResetOfframpForRetry failed: %v", err)
	}
	if ok {
		t.Error("Retry must be rejected for non-failed transactions")
	}
}

func TestListOfframpByStatus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")
	createTestOfframp(t, service, "tx2")
	createTestOfframp(t, service, "tx3")

	ok, err := service.SetOfframpChainTx(ctx, "tx2", "0xaaa")
	if err != nil || !ok {
		t.Fatalf("SetOfframpChainTx failed: ok=%v err=%v", ok, err)
	}

	pending, err := service.ListOfframpByStatus(ctx, models.OfframpPending, 10)
	if err != nil {
		t.Fatalf("ListOfframpByStatus failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("Expected 2 pending transactions, got %d", len(pending))
	}

	processing, err := service.ListOfframpByStatus(ctx, models.OfframpProcessing, 10)
	if err != nil {
		t.Fatalf("ListOfframpByStatus failed: %v", err)
	}
	if len(processing) != 1 || processing[0].Id != "tx2" {
		t.Errorf("Expected tx2 processing, got %+v", processing)
	}
}

func TestSetOfframpOrderAndPayout(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	if err := service.SetOfframpOrder(ctx, "tx1", "order-9", "0xreceive"); err != nil {
		t.Fatalf("SetOfframpOrder failed: %v", err)
	}
	if err := service.SetOfframpPayout(ctx, "tx1", "payout-3"); err != nil {
		t.Fatalf("SetOfframpPayout failed: %v", err)
	}

	tx, err := service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.OrderId != "order-9" || tx.ReceiveAddress != "0xreceive" {
		t.Errorf("Order fields not persisted: %+v", tx)
	}
	if tx.PayoutOrderId != "payout-3" {
		t.Errorf("Expected payout order payout-3, got %s", tx.PayoutOrderId)
	}
}

func TestSetOfframpQuote(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestOfframp(t, service, "tx1")

	rate := decimal.NewFromInt(1620)
	fiatAmount := decimal.NewFromInt(81000)
	if err := service.SetOfframpQuote(ctx, "tx1", "polygon", rate, fiatAmount); err != nil {
		t.Fatalf("SetOfframpQuote failed: %v", err)
	}

	tx, err := service.GetOfframpTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetOfframpTransaction failed: %v", err)
	}
	if tx.SourceNetwork != "polygon" {
		t.Errorf("Expected network polygon, got %s", tx.SourceNetwork)
	}
	if !tx.Rate.Equal(rate) {
		t.Errorf("Expected rate 1620, got %s", tx.Rate)
	}
	if !tx.FiatAmount.Equal(fiatAmount) {
		t.Errorf("Expected fiat amount 81000, got %s", tx.FiatAmount)
	}
}
