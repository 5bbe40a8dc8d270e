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
	"encoding/json"
	"fmt"

	"crossrail/internal/models"
	"crossrail/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) CreateOfframpTransaction(ctx context.Context, params store.CreateOfframpParams) (*models.OfframpTransaction, error) {
	bankDetails, err := json.Marshal(params.BankDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bank details: %w", err)
	}

	zap.L().Info("Creating off-ramp transaction",
		zap.String("id", params.Id),
		zap.String("user_id", params.UserId),
		zap.String("amount", params.SourceAmount.String()),
		zap.String("token", params.SourceToken),
		zap.String("currency", params.FiatCurrency))

	_, err = s.db.ExecContext(ctx, queryInsertOfframp,
		params.Id, params.UserId,
		params.SourceAmount.String(), params.SourceToken, params.SourceNetwork,
		params.FiatAmount.String(), params.FiatCurrency, params.Rate.String(),
		string(bankDetails))
	if err != nil {
		return nil, fmt.Errorf("failed to insert offramp transaction: %w", err)
	}

	return s.GetOfframpTransaction(ctx, params.Id)
}

func (s *Service) GetOfframpTransaction(ctx context.Context, id string) (*models.OfframpTransaction, error) {
	row := s.db.QueryRowContext(ctx, queryGetOfframp, id)

	tx, err := scanOfframpTransaction(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offramp transaction: %w", err)
	}
	return tx, nil
}

// TransitionOfframpStatus is a compare-and-swap on the status column. Zero
// rows affected means the row was not in the expected status, so the caller
// lost the race and must re-read before deciding anything.
func (s *Service) TransitionOfframpStatus(ctx context.Context, id string, from, to models.OfframpStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryTransitionOfframpStatus,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition offramp status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		zap.L().Debug("Offramp status transition lost race",
			zap.String("id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return false, nil
	}
	return true, nil
}

func (s *Service) SetOfframpOrder(ctx context.Context, id, orderId, receiveAddress string) error {
	result, err := s.db.ExecContext(ctx, querySetOfframpOrder, orderId, receiveAddress, id)
	if err != nil {
		return fmt.Errorf("failed to set offramp order: %w", err)
	}
	return requireEventRow(result)
}

func (s *Service) SetOfframpQuote(ctx context.Context, id, network string, rate, fiatAmount decimal.Decimal) error {
	result, err := s.db.ExecContext(ctx, querySetOfframpQuote, network, rate.String(), fiatAmount.String(), id)
	if err != nil {
		return fmt.Errorf("failed to set offramp quote: %w", err)
	}
	return requireEventRow(result)
}

// SetOfframpChainTx records the broadcast transfer and advances the saga to
// processing in one conditional write. The guard on chain_tx_hash makes it a
// one-shot: a second caller gets false and must never transfer again.
func (s *Service) SetOfframpChainTx(ctx context.Context, id, chainTxHash string) (bool, error) {
	result, err := s.db.ExecContext(ctx, querySetOfframpChainTx, chainTxHash, id)
	if err != nil {
		return false, fmt.Errorf("failed to set offramp chain tx: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Service) SetOfframpPayout(ctx context.Context, id, payoutOrderId string) error {
	result, err := s.db.ExecContext(ctx, querySetOfframpPayout, payoutOrderId, id)
	if err != nil {
		return fmt.Errorf("failed to set offramp payout: %w", err)
	}
	return requireEventRow(result)
}

func (s *Service) MarkOfframpFailed(ctx context.Context, id, errorStep, errorMessage string) error {
	result, err := s.db.ExecContext(ctx, queryMarkOfframpFailed, errorStep, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark offramp failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Already terminal. A completed or failed saga never fails again.
		return store.ErrConcurrentModification
	}

	zap.L().Warn("Offramp transaction failed",
		zap.String("id", id),
		zap.String("step", errorStep),
		zap.String("reason", errorMessage))
	return nil
}

// CancelOfframp fails a still-pending transaction. The status guard makes
// cancellation impossible once a transfer was broadcast.
func (s *Service) CancelOfframp(ctx context.Context, id, reason string) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryCancelOfframp, reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel offramp: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		zap.L().Info("Offramp transaction cancelled", zap.String("id", id))
	}
	return rows > 0, nil
}

// ResetOfframpForRetry is the only backward transition: failed -> pending.
// Payout and error fields are always cleared. When the caller asserts no
// funds have moved yet the chain hash, partner order, and deposit address
// are cleared too, forcing a fresh order against the re-selected network.
func (s *Service) ResetOfframpForRetry(ctx context.Context, id string, clearChainTx bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryResetOfframpForRetry, clearChainTx, clearChainTx, clearChainTx, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset offramp for retry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Service) ListOfframpByStatus(ctx context.Context, status models.OfframpStatus, limit int) ([]models.OfframpTransaction, error) {
	rows, err := s.db.QueryContext(ctx, queryListOfframpByStatus, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list offramp transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.OfframpTransaction
	for rows.Next() {
		tx, err := scanOfframpTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offramp transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offramp transactions: %w", err)
	}
	return txs, nil
}

func scanOfframpTransaction(row rowScanner) (*models.OfframpTransaction, error) {
	var tx models.OfframpTransaction
	var sourceAmountStr, fiatAmountStr, rateStr, bankDetailsStr string

	err := row.Scan(&tx.Id, &tx.UserId, &sourceAmountStr, &tx.SourceToken,
		&tx.SourceNetwork, &fiatAmountStr, &tx.FiatCurrency, &rateStr,
		&bankDetailsStr, &tx.Status, &tx.OrderId, &tx.ReceiveAddress,
		&tx.ChainTxHash, &tx.PayoutOrderId, &tx.ErrorStep, &tx.ErrorMessage,
		&tx.Version, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.SourceAmount, err = decimal.NewFromString(sourceAmountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source amount '%s': %w", sourceAmountStr, err)
	}
	tx.FiatAmount, err = decimal.NewFromString(fiatAmountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fiat amount '%s': %w", fiatAmountStr, err)
	}
	tx.Rate, err = decimal.NewFromString(rateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rate '%s': %w", rateStr, err)
	}
	if err := json.Unmarshal([]byte(bankDetailsStr), &tx.BankDetails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bank details: %w", err)
	}
	return &tx, nil
}
