// Package pull drives the remote pull-and-verify loop against the backend.
package pull

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelfleet/controld/internal/metrics"
	"github.com/modelfleet/controld/internal/ollama"
)

// Outcome of one Pull invocation.
type Outcome string

const (
	Success                  Outcome = "success"
	NotAvailableAfterRetries Outcome = "not_available_after_retries"
)

const (
	defaultRounds     = 10
	defaultRoundDelay = 60 * time.Second
)

// Config for a Poller. Zero values fall back to production defaults.
type Config struct {
	Rounds     int
	RoundDelay time.Duration
	Logger     zerolog.Logger
}

// Poller retriggers a backend pull and watches the inventory until the model
// shows up or the round budget runs out. The backend's pull endpoint is
// asynchronous and idempotent, so the retrigger is a liveness nudge rather
// than a correctness-critical retry.
type Poller struct {
	backend    *ollama.Client
	rounds     int
	roundDelay time.Duration
	log        zerolog.Logger
}

func NewPoller(backend *ollama.Client, cfg Config) *Poller {
	if cfg.Rounds <= 0 {
		cfg.Rounds = defaultRounds
	}
	if cfg.RoundDelay <= 0 {
		cfg.RoundDelay = defaultRoundDelay
	}
	return &Poller{
		backend:    backend,
		rounds:     cfg.Rounds,
		roundDelay: cfg.RoundDelay,
		log:        cfg.Logger.With().Str("component", "pull").Logger(),
	}
}

// Pull runs up to the configured number of rounds. Each round triggers the
// backend pull (failures logged, round continues), waits for download
// progress, then checks the inventory. Returns Success on the first round
// the model appears. Exhaustion is an outcome, not an error.
func (p *Poller) Pull(ctx context.Context, model string) (Outcome, error) {
	for round := 1; round <= p.rounds; round++ {
		metrics.PullRounds.Inc()
		log := p.log.With().Str("model", model).Int("round", round).Logger()

		if err := p.backend.Pull(ctx, model); err != nil {
			// The backend may already be downloading; a failed trigger is
			// not fatal to the round.
			log.Warn().Err(err).Msg("pull trigger failed")
		} else {
			log.Info().Msg("pull triggered")
		}

		if err := sleepCtx(ctx, p.roundDelay); err != nil {
			return NotAvailableAfterRetries, err
		}

		found, _, err := p.backend.HasModel(ctx, model)
		if err != nil {
			log.Warn().Err(err).Msg("inventory check failed")
			continue
		}
		if found {
			log.Info().Msg("model is now available locally")
			return Success, nil
		}
	}
	p.log.Warn().Str("model", model).Int("rounds", p.rounds).Msg("model not available after all rounds")
	return NotAvailableAfterRetries, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
