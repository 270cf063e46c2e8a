// Package lifecycle sequences egress provisioning, the artifact pull, and
// teardown as one detached unit of background work per pull request.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modelfleet/controld/internal/egress"
	"github.com/modelfleet/controld/internal/events"
	"github.com/modelfleet/controld/internal/metrics"
	"github.com/modelfleet/controld/internal/pull"
	"github.com/modelfleet/controld/internal/report"
)

// State of a pull run.
type State string

const (
	StateProvisioning State = "provisioning"
	StatePulling      State = "pulling"
	StateTearingDown  State = "tearing_down"
	StateDone         State = "done"
)

// Run outcomes recorded in metrics, events, and run reports.
const (
	outcomeProvisioningFailed = "provisioning_failed"
)

type Config struct {
	// Provisioner may be nil, in which case runs skip straight from idle
	// to pulling (the deployment already has direct egress).
	Provisioner *egress.Provisioner
	Poller      *pull.Poller
	Publisher   events.Publisher
	Archiver    report.Archiver
	Logger      zerolog.Logger
}

// Orchestrator owns the per-request state machine. It is memoryless across
// restarts and holds no run state beyond the lifetime of each goroutine.
type Orchestrator struct {
	provisioner *egress.Provisioner
	poller      *pull.Poller
	publisher   events.Publisher
	archiver    report.Archiver
	log         zerolog.Logger
	wg          sync.WaitGroup
}

func New(cfg Config) *Orchestrator {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	archiver := cfg.Archiver
	if archiver == nil {
		archiver = report.NopArchiver{}
	}
	return &Orchestrator{
		provisioner: cfg.Provisioner,
		poller:      cfg.Poller,
		publisher:   publisher,
		archiver:    archiver,
		log:         cfg.Logger.With().Str("component", "lifecycle").Logger(),
	}
}

// StartPull launches one detached run and returns its id immediately. The
// run proceeds without further synchronization with the caller: there is no
// cancellation once started and no timeout around the run as a whole, only
// the bounded loops inside provisioning and pulling cap its duration.
func (o *Orchestrator) StartPull(model string) string {
	runID := uuid.NewString()
	metrics.PullRunsStarted.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().Str("run_id", runID).Interface("panic", r).Msg("pull run panicked")
			}
		}()
		o.run(runID, model)
	}()
	return runID
}

// Wait blocks until every started run has reached a terminal state. Used by
// tests; the process does not wait on runs at shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(runID, model string) {
	ctx := context.Background()
	log := o.log.With().Str("run_id", runID).Str("model", model).Logger()
	startedAt := time.Now().UTC()

	var eg *egress.Egress
	if o.provisioner != nil {
		o.publish(ctx, runID, model, StateProvisioning, nil)
		log.Info().Msg("provisioning egress")
		provisioned, err := o.provisioner.Ensure(ctx)
		if err != nil {
			// Nothing reached a stable attached state; there is nothing
			// to tear down.
			log.Error().Err(err).Msg("egress provisioning failed, aborting pull")
			o.publish(ctx, runID, model, StateDone, err)
			metrics.PullRunsCompleted.WithLabelValues(outcomeProvisioningFailed).Inc()
			o.archive(ctx, report.RunReport{
				RunID:      runID,
				Model:      model,
				Outcome:    outcomeProvisioningFailed,
				Error:      err.Error(),
				StartedAt:  startedAt,
				FinishedAt: time.Now().UTC(),
			})
			return
		}
		eg = provisioned
	}

	o.publish(ctx, runID, model, StatePulling, nil)
	outcome, err := o.poller.Pull(ctx, model)
	if err != nil {
		log.Error().Err(err).Msg("pull loop interrupted")
	}

	// Teardown runs whenever provisioning ran, whatever the pull outcome.
	if eg != nil {
		o.publish(ctx, runID, model, StateTearingDown, nil)
		o.provisioner.Teardown(ctx, eg)
	}

	o.publish(ctx, runID, model, StateDone, nil)
	metrics.PullRunsCompleted.WithLabelValues(string(outcome)).Inc()
	log.Info().Str("outcome", string(outcome)).Msg("pull run finished")

	rep := report.RunReport{
		RunID:      runID,
		Model:      model,
		Outcome:    string(outcome),
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if eg != nil {
		rep.Provisioned = true
		rep.GatewayID = eg.GatewayID
		rep.CreatedGW = eg.Created
	}
	o.archive(ctx, rep)
}

func (o *Orchestrator) publish(ctx context.Context, runID, model string, state State, runErr error) {
	ev := events.Event{
		RunID: runID,
		Model: model,
		State: string(state),
		Ts:    time.Now().UTC(),
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	pubCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, ev); err != nil {
		o.log.Warn().Err(err).Str("run_id", runID).Str("state", string(state)).Msg("failed to publish lifecycle event")
	}
}

func (o *Orchestrator) archive(ctx context.Context, rep report.RunReport) {
	arcCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := o.archiver.ArchiveRun(arcCtx, rep); err != nil {
		o.log.Warn().Err(err).Str("run_id", rep.RunID).Msg("failed to archive run report")
	}
}
