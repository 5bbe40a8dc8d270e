/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"

	"crossrail/internal/models"
	"crossrail/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceFromDB wraps an existing connection. Used by tests with an
// in-memory database.
func NewServiceFromDB(db *sql.DB) (*Service, error) {
	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	schema := `
	-- Payment events: audit trail and dedup ledger. Rows are never deleted.
	CREATE TABLE IF NOT EXISTS payment_events (
		transaction_hash TEXT NOT NULL,
		settlement_reference TEXT NOT NULL,
		source_network TEXT NOT NULL,
		payer TEXT NOT NULL DEFAULT '',
		payee TEXT NOT NULL DEFAULT '',
		token_address TEXT NOT NULL DEFAULT '',
		token_symbol TEXT NOT NULL DEFAULT '',
		gross_amount TEXT NOT NULL DEFAULT '0',
		platform_fee TEXT NOT NULL DEFAULT '0',
		block_number INTEGER NOT NULL DEFAULT 0,
		block_timestamp TIMESTAMP,
		processed BOOLEAN NOT NULL DEFAULT 0,
		notified BOOLEAN NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (transaction_hash, settlement_reference, source_network)
	);

	CREATE INDEX IF NOT EXISTS idx_payment_events_processed ON payment_events(processed);
	CREATE INDEX IF NOT EXISTS idx_payment_events_network ON payment_events(source_network);

	-- Ledger records: shared ownership with the surrounding CRUD system.
	-- The reconciler only ever performs the conditional transition to paid.
	CREATE TABLE IF NOT EXISTS ledger_records (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL DEFAULT '0',
		token_symbol TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		payment_tx_hash TEXT NOT NULL DEFAULT '',
		paid_amount TEXT NOT NULL DEFAULT '0',
		paid_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_records_status ON ledger_records(status);
	CREATE INDEX IF NOT EXISTS idx_ledger_records_user ON ledger_records(user_id);

	-- Off-ramp transactions: forward-only status machine with optimistic
	-- concurrency on the status column.
	CREATE TABLE IF NOT EXISTS offramp_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_amount TEXT NOT NULL,
		source_token TEXT NOT NULL,
		source_network TEXT NOT NULL DEFAULT '',
		fiat_amount TEXT NOT NULL DEFAULT '0',
		fiat_currency TEXT NOT NULL,
		rate TEXT NOT NULL DEFAULT '0',
		bank_details TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		order_id TEXT NOT NULL DEFAULT '',
		receive_address TEXT NOT NULL DEFAULT '',
		chain_tx_hash TEXT NOT NULL DEFAULT '',
		payout_order_id TEXT NOT NULL DEFAULT '',
		error_step TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_offramp_transactions_status ON offramp_transactions(status);
	CREATE INDEX IF NOT EXISTS idx_offramp_transactions_user ON offramp_transactions(user_id);

	-- Off-ramp sessions: hard TTL fixed at creation, never refreshed.
	CREATE TABLE IF NOT EXISTS offramp_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		step TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_offramp_sessions_user ON offramp_sessions(user_id, expires_at);
	CREATE INDEX IF NOT EXISTS idx_offramp_sessions_expiry ON offramp_sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
