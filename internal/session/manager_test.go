package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"crossrail/internal/database"
	"crossrail/internal/models"
	"crossrail/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

func setupManager(t *testing.T, ttl time.Duration) (*Manager, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	service, err := database.NewServiceFromDB(db)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	manager := NewManager(service, models.SessionConfig{
		TTL:           ttl,
		SweepInterval: 10 * time.Millisecond,
	})
	return manager, func() { db.Close() }
}

func TestManager_Flow(t *testing.T) {
	manager, cleanup := setupManager(t, 30*time.Minute)
	defer cleanup()

	ctx := context.Background()
	session, err := manager.Start(ctx, "user1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.Step != models.StepAmount {
		t.Errorf("Expected initial step amount, got %s", session.Step)
	}

	advanced, err := manager.Advance(ctx, session.Id, models.StepPayoutMethod, map[string]string{"amount": "50"})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if advanced.Step.Index() <= session.Step.Index() {
		t.Errorf("Expected step to advance past %s, got %s", session.Step, advanced.Step)
	}

	active, err := manager.Active(ctx, "user1")
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active.Data["amount"] != "50" {
		t.Errorf("Expected merged data visible, got %v", active.Data)
	}

	if err := manager.Clear(ctx, session.Id); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := manager.Active(ctx, "user1"); err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound after clear, got %v", err)
	}
}

func TestManager_SweeperRemovesExpired(t *testing.T) {
	manager, cleanup := setupManager(t, -time.Minute)
	defer cleanup()

	ctx := context.Background()
	if _, err := manager.Start(ctx, "user1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	manager.StartSweeper(ctx)
	time.Sleep(50 * time.Millisecond)
	manager.Stop()

	session, err := manager.Advance(ctx, "anything", models.StepPayoutMethod, nil)
	if err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got session=%v err=%v", session, err)
	}
}
