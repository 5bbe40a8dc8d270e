package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"crossrail/internal/common"
	"crossrail/internal/metrics"
	"crossrail/internal/models"
	"crossrail/internal/retry"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Source subscribes to one network's settlement contract and feeds decoded
// payment events into the shared intake channel. A dropped subscription is
// reconnected with exponential backoff until the context is cancelled.
type Source struct {
	network  common.NetworkConfig
	registry *common.NetworkRegistry
	cfg      models.ChainConfig
	intake   chan<- models.PaymentEvent
}

func NewSource(network common.NetworkConfig, registry *common.NetworkRegistry, cfg models.ChainConfig, intake chan<- models.PaymentEvent) *Source {
	return &Source{
		network:  network,
		registry: registry,
		cfg:      cfg,
		intake:   intake,
	}
}

// Run blocks until ctx is cancelled, maintaining the subscription across
// upstream outages.
func (s *Source) Run(ctx context.Context) {
	attempt := func() error {
		err := s.subscribe(ctx)
		if err != nil && ctx.Err() == nil {
			metrics.ChainReconnects.WithLabelValues(s.network.Name).Inc()
		}
		return err
	}

	if err := retry.Forever(ctx, "chain-subscribe-"+s.network.Name, s.cfg.ReconnectBase, attempt); err != nil {
		zap.L().Info("Chain source stopped",
			zap.String("network", s.network.Name),
			zap.Error(err))
	}
}

// subscribe holds one live subscription, returning an error when it drops so
// the outer loop reconnects.
func (s *Source) subscribe(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, s.network.RpcUrl)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.network.Name, err)
	}
	defer client.Close()

	query := ethereum.FilterQuery{
		Addresses: []ethcommon.Address{ethcommon.HexToAddress(s.network.SettlementContract)},
		Topics:    [][]ethcommon.Hash{{paymentSettledTopic}},
	}

	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe on %s: %w", s.network.Name, err)
	}
	defer sub.Unsubscribe()

	zap.L().Info("Subscribed to settlement events",
		zap.String("network", s.network.Name),
		zap.String("contract", s.network.SettlementContract))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription on %s dropped: %w", s.network.Name, err)
		case log := <-logs:
			if log.Removed {
				// Reorged out. The event will be redelivered if it lands in
				// the canonical chain.
				zap.L().Warn("Ignoring removed log",
					zap.String("network", s.network.Name),
					zap.String("tx_hash", log.TxHash.Hex()))
				continue
			}
			s.handleLog(ctx, client, log)
		}
	}
}

func (s *Source) handleLog(ctx context.Context, client *ethclient.Client, log types.Log) {
	event, err := DecodePaymentSettled(s.registry, s.network.Name, log)
	if err != nil {
		zap.L().Warn("Skipping undecodable settlement log",
			zap.String("network", s.network.Name),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Error(err))
		return
	}

	event.BlockTimestamp = s.blockTimestamp(ctx, client, log.BlockNumber)

	select {
	case s.intake <- *event:
	case <-ctx.Done():
	}
}

// blockTimestamp fetches the block header for the event's timestamp. Failure
// is tolerated: the event is still reconcilable without it.
func (s *Source) blockTimestamp(ctx context.Context, client *ethclient.Client, blockNumber uint64) time.Time {
	headerCtx, cancel := context.WithTimeout(ctx, s.cfg.HeaderTimeout)
	defer cancel()

	header, err := client.HeaderByNumber(headerCtx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		zap.L().Warn("Failed to fetch block header",
			zap.String("network", s.network.Name),
			zap.Uint64("block", blockNumber),
			zap.Error(err))
		return time.Time{}
	}
	return time.Unix(int64(header.Time), 0).UTC()
}
