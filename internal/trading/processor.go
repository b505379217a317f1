package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor periodically compensates trades abandoned mid-saga
type Processor struct {
	service      *Service
	processDelay time.Duration // Time between recovery passes
	staleAfter   time.Duration // Pending sagas untouched this long are abandoned
}

func NewProcessor(service *Service, processDelay, staleAfter time.Duration) *Processor {
	if processDelay <= 0 {
		processDelay = time.Minute
	}
	if staleAfter < service.timeout {
		staleAfter = 3 * service.timeout
	}
	return &Processor{
		service:      service,
		processDelay: processDelay,
		staleAfter:   staleAfter,
	}
}

// Start runs a recovery pass immediately, then one per interval until ctx ends
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "saga_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting saga recovery processor")

	p.RunOnce(ctx)

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down saga recovery processor")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single recovery pass
func (p *Processor) RunOnce(ctx context.Context) int {
	logger := log.With().Str("component", "saga_processor").Logger()

	recovered, err := p.service.Recover(ctx, time.Now().Add(-p.staleAfter))
	if err != nil {
		logger.Error().Err(err).Msg("failed to process stale sagas")
		return 0
	}
	if recovered > 0 {
		logger.Info().Int("recovered_count", recovered).Msg("compensated stale sagas")
	}
	return recovered
}
