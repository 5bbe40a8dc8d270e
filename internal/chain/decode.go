package chain

import (
	"fmt"
	"math/big"
	"strings"

	"crossrail/internal/common"
	"crossrail/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// paymentSettledABI is the settlement contract event the core listens for.
const paymentSettledABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true,  "internalType": "address", "name": "payer",               "type": "address"},
		{"indexed": true,  "internalType": "address", "name": "payee",               "type": "address"},
		{"indexed": false, "internalType": "address", "name": "token",               "type": "address"},
		{"indexed": false, "internalType": "uint256", "name": "grossAmount",         "type": "uint256"},
		{"indexed": false, "internalType": "uint256", "name": "platformFee",         "type": "uint256"},
		{"indexed": false, "internalType": "string",  "name": "settlementReference", "type": "string"}
	],
	"name": "PaymentSettled",
	"type": "event"
}]`

var (
	settlementABI       abi.ABI
	paymentSettledTopic ethcommon.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(paymentSettledABI))
	if err != nil {
		panic(fmt.Sprintf("invalid settlement event ABI: %v", err))
	}
	settlementABI = parsed
	paymentSettledTopic = settlementABI.Events["PaymentSettled"].ID
}

type paymentSettledData struct {
	Token               ethcommon.Address
	GrossAmount         *big.Int
	PlatformFee         *big.Int
	SettlementReference string
}

// DecodePaymentSettled turns one raw log into a normalized payment event.
// Amounts are converted from the token's base units using the registry's
// decimals; a token the registry does not know cannot be priced, so the log
// is rejected.
func DecodePaymentSettled(registry *common.NetworkRegistry, network string, log types.Log) (*models.PaymentEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != paymentSettledTopic {
		return nil, fmt.Errorf("log is not a PaymentSettled event")
	}

	var data paymentSettledData
	if err := settlementABI.UnpackIntoInterface(&data, "PaymentSettled", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack PaymentSettled data: %w", err)
	}

	tokenAddress := data.Token.Hex()
	token, ok := registry.TokenByAddress(network, tokenAddress)
	if !ok {
		return nil, fmt.Errorf("unknown token %s on network %s", tokenAddress, network)
	}

	return &models.PaymentEvent{
		TransactionHash:     log.TxHash.Hex(),
		SettlementReference: data.SettlementReference,
		SourceNetwork:       network,
		Payer:               ethcommon.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		Payee:               ethcommon.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		TokenAddress:        tokenAddress,
		TokenSymbol:         token.Symbol,
		GrossAmount:         decimal.NewFromBigInt(data.GrossAmount, -token.Decimals),
		PlatformFee:         decimal.NewFromBigInt(data.PlatformFee, -token.Decimals),
		BlockNumber:         log.BlockNumber,
	}, nil
}
