package chain

import (
	"testing"

	"crossrail/internal/common"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const testRegistryYAML = `
networks:
  - name: base
    chain_id: 8453
    rpc_url: wss://base.example
    settlement_contract: "0x00000000000000000000000000000000000000AA"
    priority: 1
tokens:
  - symbol: USDC
    decimals: 6
    min_offramp_amount: "1"
    addresses:
      base: "0x00000000000000000000000000000000000000BB"
`

func testRegistry(t *testing.T) *common.NetworkRegistry {
	t.Helper()
	registry, err := common.ParseNetworkRegistry([]byte(testRegistryYAML))
	if err != nil {
		t.Fatalf("ParseNetworkRegistry failed: %v", err)
	}
	return registry
}

func encodeSettledLog(t *testing.T, payer, payee, token ethcommon.Address, gross, fee int64, reference string) types.Log {
	t.Helper()
	args := settlementABI.Events["PaymentSettled"].Inputs.NonIndexed()
	data, err := args.Pack(token, decimal.NewFromInt(gross).BigInt(), decimal.NewFromInt(fee).BigInt(), reference)
	if err != nil {
		t.Fatalf("Failed to pack event data: %v", err)
	}

	return types.Log{
		Topics: []ethcommon.Hash{
			paymentSettledTopic,
			ethcommon.BytesToHash(payer.Bytes()),
			ethcommon.BytesToHash(payee.Bytes()),
		},
		Data:        data,
		TxHash:      ethcommon.HexToHash("0x1111"),
		BlockNumber: 42,
	}
}

func TestDecodePaymentSettled(t *testing.T) {
	registry := testRegistry(t)
	payer := ethcommon.HexToAddress("0x00000000000000000000000000000000000000C1")
	payee := ethcommon.HexToAddress("0x00000000000000000000000000000000000000C2")
	token := ethcommon.HexToAddress("0x00000000000000000000000000000000000000BB")

	// 100.5 USDC gross, 0.5 USDC fee in base units of 1e6.
	log := encodeSettledLog(t, payer, payee, token, 100500000, 500000, "invoice_inv1")

	event, err := DecodePaymentSettled(registry, "base", log)
	if err != nil {
		t.Fatalf("DecodePaymentSettled failed: %v", err)
	}

	if event.SettlementReference != "invoice_inv1" {
		t.Errorf("Expected reference invoice_inv1, got %s", event.SettlementReference)
	}
	if event.Payer != payer.Hex() || event.Payee != payee.Hex() {
		t.Errorf("Addresses did not decode: payer=%s payee=%s", event.Payer, event.Payee)
	}
	if event.TokenSymbol != "USDC" {
		t.Errorf("Expected token USDC, got %s", event.TokenSymbol)
	}
	if !event.GrossAmount.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("Expected gross 100.5, got %s", event.GrossAmount)
	}
	if !event.PlatformFee.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected fee 0.5, got %s", event.PlatformFee)
	}
	if event.SourceNetwork != "base" {
		t.Errorf("Expected network base, got %s", event.SourceNetwork)
	}
	if event.BlockNumber != 42 {
		t.Errorf("Expected block 42, got %d", event.BlockNumber)
	}
}

func TestDecodePaymentSettled_UnknownToken(t *testing.T) {
	registry := testRegistry(t)
	token := ethcommon.HexToAddress("0x00000000000000000000000000000000000000DD")

	log := encodeSettledLog(t,
		ethcommon.HexToAddress("0xC1"), ethcommon.HexToAddress("0xC2"),
		token, 1000000, 0, "invoice_inv1")

	if _, err := DecodePaymentSettled(registry, "base", log); err == nil {
		t.Fatal("Expected error for token the registry does not know")
	}
}

func TestDecodePaymentSettled_WrongTopic(t *testing.T) {
	registry := testRegistry(t)
	log := types.Log{
		Topics: []ethcommon.Hash{ethcommon.HexToHash("0xdead")},
	}
	if _, err := DecodePaymentSettled(registry, "base", log); err == nil {
		t.Fatal("Expected error for non-settlement log")
	}
}
