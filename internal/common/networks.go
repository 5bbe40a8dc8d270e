package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// NetworkConfig describes one supported settlement network.
type NetworkConfig struct {
	Name               string `yaml:"name"`
	ChainId            int64  `yaml:"chain_id"`
	RpcUrl             string `yaml:"rpc_url"`
	SettlementContract string `yaml:"settlement_contract"`
	// Priority orders networks for off-ramp source selection; lower wins.
	Priority int `yaml:"priority"`
}

// TokenConfig describes one supported token and its per-network addresses.
type TokenConfig struct {
	Symbol           string            `yaml:"symbol"`
	Decimals         int32             `yaml:"decimals"`
	MinOfframpAmount string            `yaml:"min_offramp_amount"`
	Addresses        map[string]string `yaml:"addresses"`
}

type registryFile struct {
	Networks   []NetworkConfig `yaml:"networks"`
	Tokens     []TokenConfig   `yaml:"tokens"`
	Currencies []string        `yaml:"currencies"`
}

// NetworkRegistry is the static routing table loaded at startup: which
// networks exist, which tokens live where, and which fiat currencies payouts
// may settle in.
type NetworkRegistry struct {
	networks   map[string]NetworkConfig
	tokens     map[string]TokenConfig
	currencies map[string]bool
}

func LoadNetworkRegistry(registryFile string) (*NetworkRegistry, error) {
	var registryPath string
	if filepath.IsAbs(registryFile) {
		registryPath = registryFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		registryPath = filepath.Join(wd, registryFile)
	}

	data, err := os.ReadFile(registryPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", registryFile, err)
	}

	return ParseNetworkRegistry(data)
}

func ParseNetworkRegistry(data []byte) (*NetworkRegistry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse network registry: %w", err)
	}

	registry := &NetworkRegistry{
		networks:   make(map[string]NetworkConfig),
		tokens:     make(map[string]TokenConfig),
		currencies: make(map[string]bool),
	}

	for i, network := range file.Networks {
		if network.Name == "" {
			return nil, fmt.Errorf("network at index %d missing name", i)
		}
		if network.SettlementContract == "" {
			return nil, fmt.Errorf("network %s missing settlement contract", network.Name)
		}
		registry.networks[network.Name] = network
	}

	for i, token := range file.Tokens {
		if token.Symbol == "" {
			return nil, fmt.Errorf("token at index %d missing symbol", i)
		}
		if token.MinOfframpAmount != "" {
			if _, err := decimal.NewFromString(token.MinOfframpAmount); err != nil {
				return nil, fmt.Errorf("token %s has invalid min_offramp_amount: %w", token.Symbol, err)
			}
		}
		for network := range token.Addresses {
			if _, ok := registry.networks[network]; !ok {
				return nil, fmt.Errorf("token %s references unknown network %s", token.Symbol, network)
			}
		}
		registry.tokens[token.Symbol] = token
	}

	for _, currency := range file.Currencies {
		registry.currencies[currency] = true
	}

	if len(registry.networks) == 0 {
		return nil, fmt.Errorf("network registry contains no networks")
	}
	return registry, nil
}

// Network returns the configuration for the named network.
func (r *NetworkRegistry) Network(name string) (NetworkConfig, bool) {
	network, ok := r.networks[name]
	return network, ok
}

// Networks returns all configured networks in priority order.
func (r *NetworkRegistry) Networks() []NetworkConfig {
	networks := make([]NetworkConfig, 0, len(r.networks))
	for _, network := range r.networks {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool {
		return networks[i].Priority < networks[j].Priority
	})
	return networks
}

// NetworksForToken returns the networks the token is deployed on, in priority
// order. Used to pick a source network for an off-ramp balance check.
func (r *NetworkRegistry) NetworksForToken(symbol string) []NetworkConfig {
	token, ok := r.tokens[symbol]
	if !ok {
		return nil
	}
	var networks []NetworkConfig
	for name := range token.Addresses {
		if network, ok := r.networks[name]; ok {
			networks = append(networks, network)
		}
	}
	sort.Slice(networks, func(i, j int) bool {
		return networks[i].Priority < networks[j].Priority
	})
	return networks
}

// Token returns the configuration for the given symbol.
func (r *NetworkRegistry) Token(symbol string) (TokenConfig, bool) {
	token, ok := r.tokens[symbol]
	return token, ok
}

// TokenOnNetwork returns the token's contract address on the given network.
func (r *NetworkRegistry) TokenOnNetwork(symbol, network string) (string, bool) {
	token, ok := r.tokens[symbol]
	if !ok {
		return "", false
	}
	address, ok := token.Addresses[network]
	return address, ok
}

// TokenByAddress resolves a contract address observed on a network back to a
// token symbol. Comparison is case-insensitive because observed addresses
// arrive EIP-55 checksummed while the registry may not be.
func (r *NetworkRegistry) TokenByAddress(network, address string) (TokenConfig, bool) {
	for _, token := range r.tokens {
		if strings.EqualFold(token.Addresses[network], address) {
			return token, true
		}
	}
	return TokenConfig{}, false
}

// MinOfframpAmount returns the configured floor for off-ramping the token,
// zero when none is set.
func (r *NetworkRegistry) MinOfframpAmount(symbol string) decimal.Decimal {
	token, ok := r.tokens[symbol]
	if !ok || token.MinOfframpAmount == "" {
		return decimal.Zero
	}
	min, err := decimal.NewFromString(token.MinOfframpAmount)
	if err != nil {
		return decimal.Zero
	}
	return min
}

// SupportsCurrency reports whether payouts may settle in the given fiat
// currency.
func (r *NetworkRegistry) SupportsCurrency(currency string) bool {
	return r.currencies[currency]
}
