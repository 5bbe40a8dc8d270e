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
	"errors"
	"flag"
	"fmt"

	"crossrail/internal/common"
	"crossrail/internal/config"
	"crossrail/internal/models"
	"crossrail/internal/offramp"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type offrampRequest struct {
	op          string
	id          string
	userId      string
	amount      decimal.Decimal
	token       string
	currency    string
	bankDetails models.BankDetails
}

func parseAndValidateFlags() (*offrampRequest, error) {
	opFlag := flag.String("op", "", "Operation: start, retry, cancel, status (required)")
	idFlag := flag.String("id", "", "Transaction id (required for retry, cancel, status)")
	userFlag := flag.String("user", "", "User id (required for start)")
	amountFlag := flag.String("amount", "", "Token amount to off-ramp (required for start)")
	tokenFlag := flag.String("token", "USDC", "Token symbol")
	currencyFlag := flag.String("currency", "", "Fiat payout currency, e.g. NGN (required for start)")
	accountNumberFlag := flag.String("account-number", "", "Bank account number (required for start)")
	bankCodeFlag := flag.String("bank-code", "", "Bank code (required for start)")
	bankNameFlag := flag.String("bank-name", "", "Bank name (required for start)")
	accountNameFlag := flag.String("account-name", "", "Account holder name (required for start)")
	flag.Parse()

	req := &offrampRequest{
		op:       *opFlag,
		id:       *idFlag,
		userId:   *userFlag,
		token:    *tokenFlag,
		currency: *currencyFlag,
		bankDetails: models.BankDetails{
			AccountNumber: *accountNumberFlag,
			BankCode:      *bankCodeFlag,
			BankName:      *bankNameFlag,
			AccountName:   *accountNameFlag,
		},
	}

	switch req.op {
	case "start":
		if req.userId == "" || *amountFlag == "" || req.currency == "" {
			return nil, fmt.Errorf("start requires --user, --amount and --currency")
		}
		if req.bankDetails.AccountNumber == "" || req.bankDetails.BankCode == "" {
			return nil, fmt.Errorf("start requires --account-number and --bank-code")
		}
		amount, err := decimal.NewFromString(*amountFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid amount format: %w", err)
		}
		if amount.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("amount must be greater than zero")
		}
		req.amount = amount
	case "retry", "cancel", "status":
		if req.id == "" {
			return nil, fmt.Errorf("%s requires --id", req.op)
		}
	default:
		return nil, fmt.Errorf("unknown operation %q, expected start, retry, cancel or status", req.op)
	}

	return req, nil
}

func printTransaction(tx *models.OfframpTransaction) {
	common.PrintHeader("OFF-RAMP TRANSACTION", common.DefaultWidth)
	fmt.Printf("Id:             %s\n", tx.Id)
	fmt.Printf("User:           %s\n", tx.UserId)
	fmt.Printf("Status:         %s\n", tx.Status)
	fmt.Printf("Source:         %s %s on %s\n", tx.SourceAmount.String(), tx.SourceToken, tx.SourceNetwork)
	fmt.Printf("Payout:         %s %s @ %s\n", tx.FiatAmount.String(), tx.FiatCurrency, tx.Rate.String())
	fmt.Printf("Bank:           %s %s (%s)\n", tx.BankDetails.BankName, tx.BankDetails.AccountNumber, tx.BankDetails.AccountName)
	if tx.OrderId != "" {
		fmt.Printf("Order:          %s\n", tx.OrderId)
	}
	if tx.ChainTxHash != "" {
		fmt.Printf("Chain tx:       %s\n", tx.ChainTxHash)
	}
	if tx.PayoutOrderId != "" {
		fmt.Printf("Payout order:   %s\n", tx.PayoutOrderId)
	}
	if tx.ErrorStep != "" {
		fmt.Printf("Failed at:      %s\n", tx.ErrorStep)
		fmt.Printf("Error:          %s\n", tx.ErrorMessage)
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	orchestrator := offramp.NewOrchestrator(
		services.DbService,
		services.Registry,
		services.Custody,
		services.Partner,
		services.KYC,
		cfg.Offramp,
		cfg.Retry,
	)

	switch req.op {
	case "start":
		tx, err := orchestrator.Start(ctx, offramp.StartParams{
			UserId:      req.userId,
			Amount:      req.amount,
			Token:       req.token,
			Currency:    req.currency,
			BankDetails: req.bankDetails,
		})
		if err != nil {
			var stageErr *offramp.StageError
			if errors.As(err, &stageErr) {
				common.PrintHeader("OFF-RAMP FAILED", common.DefaultWidth)
				fmt.Printf("Stage: %s\n", stageErr.Stage)
				fmt.Printf("Error: %v\n", stageErr.Err)
				common.PrintSeparator("=", common.DefaultWidth)
			}
			zap.L().Fatal("Off-ramp failed", zap.Error(err))
		}
		fmt.Println("\nOff-ramp started. The status poller will complete it once the partner settles the payout.")
		printTransaction(tx)

	case "retry":
		tx, err := orchestrator.Retry(ctx, req.id)
		if err != nil {
			if errors.Is(err, offramp.ErrNotRetryable) {
				fmt.Println("\nThis transaction cannot be retried: the payout order already exists.")
				fmt.Println("Wait for the status poller to resolve it, or contact the partner.")
			}
			zap.L().Fatal("Retry failed", zap.String("id", req.id), zap.Error(err))
		}
		fmt.Println("\nRetry accepted.")
		printTransaction(tx)

	case "cancel":
		if err := orchestrator.Cancel(ctx, req.id); err != nil {
			zap.L().Fatal("Cancel failed", zap.String("id", req.id), zap.Error(err))
		}
		fmt.Println("\nTransaction cancelled.")

	case "status":
		tx, err := orchestrator.Status(ctx, req.id)
		if err != nil {
			zap.L().Fatal("Status lookup failed", zap.String("id", req.id), zap.Error(err))
		}
		printTransaction(tx)
	}
}
