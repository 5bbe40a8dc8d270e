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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) GetPaymentEvent(ctx context.Context, key store.EventKey) (*models.PaymentEvent, error) {
	row := s.db.QueryRowContext(ctx, queryGetPaymentEvent,
		key.TransactionHash, key.SettlementReference, key.SourceNetwork)

	event, err := scanPaymentEvent(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment event: %w", err)
	}
	return event, nil
}

// UpsertPaymentEvent inserts the event if its identity tuple is new. A
// conflict means the event was already observed; the duplicate converges to
// the existing row without touching it.
func (s *Service) UpsertPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	result, err := s.db.ExecContext(ctx, queryUpsertPaymentEvent,
		event.TransactionHash, event.SettlementReference, event.SourceNetwork,
		event.Payer, event.Payee, event.TokenAddress, event.TokenSymbol,
		event.GrossAmount.String(), event.PlatformFee.String(),
		event.BlockNumber, event.BlockTimestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert payment event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		zap.L().Debug("Payment event already recorded",
			zap.String("tx_hash", event.TransactionHash),
			zap.String("reference", event.SettlementReference),
			zap.String("network", event.SourceNetwork))
	}
	return nil
}

func (s *Service) MarkEventProcessed(ctx context.Context, key store.EventKey) error {
	result, err := s.db.ExecContext(ctx, queryMarkEventProcessed,
		key.TransactionHash, key.SettlementReference, key.SourceNetwork)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return requireEventRow(result)
}

func (s *Service) MarkEventDropped(ctx context.Context, key store.EventKey, reason string) error {
	result, err := s.db.ExecContext(ctx, queryMarkEventDropped,
		reason, key.TransactionHash, key.SettlementReference, key.SourceNetwork)
	if err != nil {
		return fmt.Errorf("failed to mark event dropped: %w", err)
	}
	return requireEventRow(result)
}

func (s *Service) MarkEventNotified(ctx context.Context, key store.EventKey) error {
	result, err := s.db.ExecContext(ctx, queryMarkEventNotified,
		key.TransactionHash, key.SettlementReference, key.SourceNetwork)
	if err != nil {
		return fmt.Errorf("failed to mark event notified: %w", err)
	}
	return requireEventRow(result)
}

func (s *Service) ListUnprocessedEvents(ctx context.Context, limit int) ([]models.PaymentEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryListUnprocessedEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []models.PaymentEvent
	for rows.Next() {
		event, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment events: %w", err)
	}
	return events, nil
}

func requireEventRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentEvent(row rowScanner) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	var grossAmountStr, platformFeeStr string
	var blockTimestamp sql.NullTime

	err := row.Scan(&event.TransactionHash, &event.SettlementReference,
		&event.SourceNetwork, &event.Payer, &event.Payee,
		&event.TokenAddress, &event.TokenSymbol,
		&grossAmountStr, &platformFeeStr, &event.BlockNumber,
		&blockTimestamp, &event.Processed, &event.Notified,
		&event.ErrorMessage, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	event.GrossAmount, err = decimal.NewFromString(grossAmountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gross amount '%s': %w", grossAmountStr, err)
	}
	event.PlatformFee, err = decimal.NewFromString(platformFeeStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse platform fee '%s': %w", platformFeeStr, err)
	}
	if blockTimestamp.Valid {
		event.BlockTimestamp = blockTimestamp.Time
	}
	return &event, nil
}
