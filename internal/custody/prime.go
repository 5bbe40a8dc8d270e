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

package custody

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"crossrail/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/balances"
	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// PrimeService implements Service against Coinbase Prime. Wallets are named
// by the (user, token, network) tuple so lookups need no local state.
type PrimeService struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService
	balancesSvc     balances.BalancesService

	portfolioId string
}

var _ Service = (*PrimeService)(nil)

func NewPrimeService(ctx context.Context, creds *credentials.Credentials) (*PrimeService, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	service := &PrimeService{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		balancesSvc:     balances.NewBalancesService(restClient),
	}

	portfolioId, err := service.findDefaultPortfolio(ctx)
	if err != nil {
		return nil, err
	}
	service.portfolioId = portfolioId

	return service, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func (s *PrimeService) findDefaultPortfolio(ctx context.Context) (string, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", fmt.Errorf("unable to list portfolios: %w", err)
	}

	for _, portfolio := range response.Portfolios {
		if portfolio.Name == "Default Portfolio" {
			return portfolio.Id, nil
		}
	}
	return "", fmt.Errorf("default portfolio not found")
}

func walletName(userId, token, network string) string {
	return fmt.Sprintf("user-%s-%s-%s", userId, token, network)
}

func (s *PrimeService) GetOrCreateWallet(ctx context.Context, userId, token, network string) (*models.CustodialWallet, error) {
	name := walletName(userId, token, network)

	response, err := s.walletsSvc.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: s.portfolioId,
		Type:        "TRADING",
		Symbols:     []string{token},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	var walletId string
	for _, w := range response.Wallets {
		if w.Name == name {
			walletId = w.Id
			break
		}
	}

	if walletId == "" {
		zap.L().Info("Provisioning custodial wallet",
			zap.String("user_id", userId),
			zap.String("token", token),
			zap.String("network", network))

		created, err := s.walletsSvc.CreateWallet(ctx, &wallets.CreateWalletRequest{
			PortfolioId:    s.portfolioId,
			Name:           name,
			Symbol:         token,
			Type:           "TRADING",
			IdempotencyKey: uuid.New().String(),
		})
		if err != nil {
			return nil, fmt.Errorf("unable to create wallet: %w", err)
		}
		walletId = created.ActivityId
	}

	address, err := s.depositAddress(ctx, walletId, network)
	if err != nil {
		return nil, err
	}

	return &models.CustodialWallet{
		WalletId: walletId,
		UserId:   userId,
		Token:    token,
		Network:  network,
		Address:  address,
	}, nil
}

// depositAddress provisions the wallet's deposit address on the given
// network. Prime returns the existing address when one was already issued.
func (s *PrimeService) depositAddress(ctx context.Context, walletId, network string) (string, error) {
	response, err := s.walletsSvc.CreateWalletAddress(ctx, &wallets.CreateWalletAddressRequest{
		PortfolioId: s.portfolioId,
		WalletId:    walletId,
		NetworkId:   network,
	})
	if err != nil {
		return "", fmt.Errorf("unable to create wallet address: %w", err)
	}
	return response.Address, nil
}

func (s *PrimeService) GetBalance(ctx context.Context, wallet *models.CustodialWallet) (*models.AssetBalance, error) {
	response, err := s.balancesSvc.GetWalletBalance(ctx, &balances.GetWalletBalanceRequest{
		PortfolioId: s.portfolioId,
		Id:          wallet.WalletId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get wallet balance: %w", err)
	}

	amount, err := decimal.NewFromString(response.Balance.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance amount '%s': %w", response.Balance.Amount, err)
	}

	return &models.AssetBalance{
		Symbol: response.Balance.Symbol,
		Amount: amount,
	}, nil
}

func (s *PrimeService) TransferToken(ctx context.Context, params TransferParams) (string, error) {
	zap.L().Info("Creating custodial withdrawal",
		zap.String("user_id", params.UserId),
		zap.String("token", params.Token),
		zap.String("network", params.Network),
		zap.String("amount", params.Amount.String()),
		zap.String("destination", params.DestinationAddress))

	wallet, err := s.GetOrCreateWallet(ctx, params.UserId, params.Token, params.Network)
	if err != nil {
		return "", err
	}

	request := &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:     s.portfolioId,
		SourceWalletId:  wallet.WalletId,
		Amount:          params.Amount.String(),
		IdempotencyKey:  params.IdempotencyKey,
		Symbol:          params.Token,
		DestinationType: "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: &model.BlockchainAddress{
			Address: params.DestinationAddress,
		},
	}

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", wallet.WalletId),
			zap.String("amount", params.Amount.String()),
			zap.Error(err))
		return "", fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal created",
		zap.String("activity_id", response.ActivityId),
		zap.String("wallet_id", wallet.WalletId))
	return response.ActivityId, nil
}
