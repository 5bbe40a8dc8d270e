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

func (s *Service) GetLedgerRecord(ctx context.Context, ref models.SettlementReference) (*models.LedgerRecord, error) {
	row := s.db.QueryRowContext(ctx, queryGetLedgerRecord, string(ref.Kind), ref.Id)

	var record models.LedgerRecord
	var amountStr, paidAmountStr string
	var paidAt sql.NullTime

	err := row.Scan(&record.Kind, &record.Id, &record.UserId, &record.Title,
		&amountStr, &record.TokenSymbol, &record.Status,
		&record.PaymentTxHash, &paidAmountStr, &paidAt,
		&record.Version, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger record: %w", err)
	}

	record.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record amount '%s': %w", amountStr, err)
	}
	record.PaidAmount, err = decimal.NewFromString(paidAmountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse paid amount '%s': %w", paidAmountStr, err)
	}
	if paidAt.Valid {
		record.PaidAt = paidAt.Time
	}
	return &record, nil
}

// MarkRecordPaid performs the conditional pre-payment -> paid transition. The
// WHERE clause carries the precondition, so concurrent processors race on a
// single write: exactly one sees a row affected and returns true.
func (s *Service) MarkRecordPaid(ctx context.Context, params store.MarkRecordPaidParams) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryMarkRecordPaid,
		params.TxHash, params.Amount.String(), params.PaidAt,
		string(params.Reference.Kind), params.Reference.Id)
	if err != nil {
		return false, fmt.Errorf("failed to mark record paid: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		zap.L().Debug("Record already past pre-payment state",
			zap.String("kind", string(params.Reference.Kind)),
			zap.String("id", params.Reference.Id))
		return false, nil
	}
	return true, nil
}

func (s *Service) InsertLedgerRecord(ctx context.Context, record models.LedgerRecord) error {
	_, err := s.db.ExecContext(ctx, queryInsertLedgerRecord,
		string(record.Kind), record.Id, record.UserId, record.Title,
		record.Amount.String(), record.TokenSymbol, string(record.Status))
	if err != nil {
		return fmt.Errorf("failed to insert ledger record: %w", err)
	}
	return nil
}
