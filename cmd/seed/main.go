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

package main

import (
	"context"
	"fmt"

	"crossrail/internal/common"
	"crossrail/internal/config"
	"crossrail/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Demo ledger records to exercise the reconciler end to end. Pay any of the
// printed references through the settlement contract and the engine will mark
// the record paid.
func demoRecords() []models.LedgerRecord {
	return []models.LedgerRecord{
		{
			Kind:        models.KindInvoice,
			Id:          uuid.New().String(),
			UserId:      "demo-user-1",
			Title:       "Design retainer - August",
			Amount:      decimal.RequireFromString("250"),
			TokenSymbol: "USDC",
			Status:      models.RecordPending,
		},
		{
			Kind:        models.KindInvoice,
			Id:          uuid.New().String(),
			UserId:      "demo-user-1",
			Title:       "Website build milestone 2",
			Amount:      decimal.RequireFromString("1200"),
			TokenSymbol: "USDC",
			Status:      models.RecordDraft,
		},
		{
			Kind:        models.KindProposal,
			Id:          uuid.New().String(),
			UserId:      "demo-user-2",
			Title:       "Brand identity package",
			Amount:      decimal.RequireFromString("800"),
			TokenSymbol: "USDT",
			Status:      models.RecordPending,
		},
		{
			Kind:        models.KindPaymentLink,
			Id:          uuid.New().String(),
			UserId:      "demo-user-2",
			Title:       "Consulting session",
			Amount:      decimal.RequireFromString("75"),
			TokenSymbol: "USDC",
			Status:      models.RecordPending,
		},
	}
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	records := demoRecords()
	for _, record := range records {
		if err := dbService.InsertLedgerRecord(ctx, record); err != nil {
			zap.L().Fatal("Failed to insert record",
				zap.String("kind", string(record.Kind)),
				zap.String("id", record.Id),
				zap.Error(err))
		}
	}

	common.PrintHeader("SEEDED LEDGER RECORDS", common.DefaultWidth)
	for _, record := range records {
		fmt.Printf("%-13s %-8s %8s %-5s  ref=%s\n",
			record.Kind, record.Status, record.Amount.String(), record.TokenSymbol,
			record.Reference().String())
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println("\nPay any reference through a settlement contract to watch the engine reconcile it.")
}
