package chain

import (
	"context"
	"sync"

	"crossrail/internal/common"
	"crossrail/internal/models"

	"go.uber.org/zap"
)

// Supervisor runs one Source per configured network, all feeding the same
// intake channel. Networks fail independently: one endpoint flapping never
// stalls the others.
type Supervisor struct {
	sources []*Source
	intake  chan models.PaymentEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor(registry *common.NetworkRegistry, cfg models.ChainConfig) *Supervisor {
	intake := make(chan models.PaymentEvent, cfg.IntakeBuffer)

	var sources []*Source
	for _, network := range registry.Networks() {
		sources = append(sources, NewSource(network, registry, cfg, intake))
	}

	return &Supervisor{
		sources: sources,
		intake:  intake,
	}
}

// Intake is the merged stream of payment events across all networks.
func (s *Supervisor) Intake() <-chan models.PaymentEvent {
	return s.intake
}

func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, source := range s.sources {
		s.wg.Add(1)
		go func(src *Source) {
			defer s.wg.Done()
			src.Run(ctx)
		}(source)
	}

	zap.L().Info("Chain supervisor started", zap.Int("networks", len(s.sources)))
}

// Stop cancels all sources and waits for them to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	zap.L().Info("Chain supervisor stopped")
}
