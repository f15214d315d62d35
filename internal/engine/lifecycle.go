package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wctv/backend/internal/config"
	"github.com/wctv/backend/internal/model"
	"github.com/wctv/backend/internal/scoring"
	"github.com/wctv/backend/internal/store"
)

// Events is the notification surface the engine emits state changes to.
// Implemented by ws.Broadcaster; tests substitute a recorder.
type Events interface {
	SessionStarted(stallID, sessionID string)
	SessionEnded(stallID, sessionID string, result model.Classification)
	StatusUpdate(stallID string, state model.StallState, score float64)
	TriggerCreated(t model.CleaningTrigger, stallName string)
	TriggerUpdated(triggerID string, status model.TriggerStatus)
}

// Lifecycle owns the cleaning-trigger state machine:
//
//	active → acknowledged → {completed | false_positive}
//
// with active → completed and active → false_positive also reachable
// through operator commands. Two actors race on every trigger: the
// autonomous timeline spawned at creation, and operator commands arriving
// over the API. Every transition is a conditional write against the store,
// so the first actor wins and the loser's stale attempt is a no-op.
type Lifecycle struct {
	cfg    config.Motor
	store  *store.Store
	events Events
	rng    *Rand
	log    zerolog.Logger

	wg sync.WaitGroup
}

func NewLifecycle(cfg config.Motor, st *store.Store, events Events, rng *Rand, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:    cfg,
		store:  st,
		events: events,
		rng:    rng,
		log:    log.With().Str("component", "lifecycle").Logger(),
	}
}

// Spawn starts the autonomous resolution timeline for a freshly created
// trigger. The timeline is tracked; Wait blocks until all outstanding
// timelines have finished or observed cancellation.
func (l *Lifecycle) Spawn(ctx context.Context, trigger model.CleaningTrigger) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.runTimeline(ctx, trigger)
	}()
}

// Wait blocks until every spawned timeline has returned.
func (l *Lifecycle) Wait() {
	l.wg.Wait()
}

// runTimeline is the autonomous path: wait, acknowledge, wait again, then
// complete (or mark false-positive). A lost race at either step ends the
// timeline silently; cancellation at either delay stops it with no
// transition attempted.
func (l *Lifecycle) runTimeline(ctx context.Context, trigger model.CleaningTrigger) {
	log := l.log.With().Str("trigger_id", trigger.ID).Logger()

	if !sleep(ctx, l.rng.Duration(l.cfg.AckDelayMin, l.cfg.AckDelayMax)) {
		return
	}

	now := time.Now()
	ok, err := l.store.TransitionTrigger(ctx, trigger.ID,
		[]model.TriggerStatus{model.TriggerActive}, model.TriggerAcknowledged, &now)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
			log.Error().Err(err).Msg("auto-acknowledge failed")
		}
		return
	}
	if !ok {
		log.Info().Msg("trigger already handled before acknowledge, stepping aside")
		return
	}
	l.events.TriggerUpdated(trigger.ID, model.TriggerAcknowledged)
	log.Info().Msg("auto-acknowledged trigger")

	if !sleep(ctx, l.rng.Duration(l.cfg.CleanDelayMin, l.cfg.CleanDelayMax)) {
		return
	}

	if l.rng.Float64() < l.cfg.FalsePositiveRate {
		ok, err := l.store.TransitionTrigger(ctx, trigger.ID,
			[]model.TriggerStatus{model.TriggerAcknowledged}, model.TriggerFalsePositive, nil)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				log.Error().Err(err).Msg("auto false-positive failed")
			}
			return
		}
		if !ok {
			log.Info().Msg("trigger already handled before resolution, stepping aside")
			return
		}
		l.events.TriggerUpdated(trigger.ID, model.TriggerFalsePositive)
		log.Info().Msg("auto-marked trigger false_positive")
		return
	}

	ok, err = l.store.TransitionTrigger(ctx, trigger.ID,
		[]model.TriggerStatus{model.TriggerAcknowledged}, model.TriggerCompleted, nil)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
			log.Error().Err(err).Msg("auto-complete failed")
		}
		return
	}
	if !ok {
		log.Info().Msg("trigger already handled before resolution, stepping aside")
		return
	}
	if err := l.finishCompleted(ctx, trigger.ID, trigger.StallID); err != nil {
		log.Error().Err(err).Msg("completion follow-up failed")
		return
	}
	log.Info().Msg("auto-completed trigger")
}

// Acknowledge is the operator path for active → acknowledged.
func (l *Lifecycle) Acknowledge(ctx context.Context, triggerID string) (*model.CleaningTrigger, error) {
	now := time.Now()
	ok, err := l.store.TransitionTrigger(ctx, triggerID,
		[]model.TriggerStatus{model.TriggerActive}, model.TriggerAcknowledged, &now)
	if err != nil {
		return nil, l.mapStoreErr(err)
	}
	if !ok {
		return nil, l.invalidState(ctx, triggerID)
	}
	l.events.TriggerUpdated(triggerID, model.TriggerAcknowledged)
	return l.store.GetTrigger(ctx, triggerID)
}

// Complete is the operator path to completed; unlike the autonomous path it
// may also complete a trigger that was never acknowledged.
func (l *Lifecycle) Complete(ctx context.Context, triggerID string) (*model.CleaningTrigger, error) {
	t, err := l.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, l.mapStoreErr(err)
	}

	ok, err := l.store.TransitionTrigger(ctx, triggerID,
		[]model.TriggerStatus{model.TriggerActive, model.TriggerAcknowledged}, model.TriggerCompleted, nil)
	if err != nil {
		return nil, l.mapStoreErr(err)
	}
	if !ok {
		return nil, l.invalidState(ctx, triggerID)
	}
	if err := l.finishCompleted(ctx, triggerID, t.StallID); err != nil {
		return nil, err
	}
	return l.store.GetTrigger(ctx, triggerID)
}

// MarkFalsePositive is the operator path to false_positive. It never issues
// a receipt and never touches the stall's condition.
func (l *Lifecycle) MarkFalsePositive(ctx context.Context, triggerID string) (*model.CleaningTrigger, error) {
	ok, err := l.store.TransitionTrigger(ctx, triggerID,
		[]model.TriggerStatus{model.TriggerActive, model.TriggerAcknowledged}, model.TriggerFalsePositive, nil)
	if err != nil {
		return nil, l.mapStoreErr(err)
	}
	if !ok {
		return nil, l.invalidState(ctx, triggerID)
	}
	l.events.TriggerUpdated(triggerID, model.TriggerFalsePositive)
	return l.store.GetTrigger(ctx, triggerID)
}

// finishCompleted runs after a successful transition to completed, on
// either path: issue the receipt, reset the stall's condition to the
// recovery value, and emit the trigger and condition notifications.
func (l *Lifecycle) finishCompleted(ctx context.Context, triggerID, stallID string) error {
	receipt := model.CleaningReceipt{
		ID:          uuid.NewString(),
		TriggerID:   triggerID,
		CompletedAt: time.Now(),
	}
	if err := l.store.InsertReceipt(ctx, receipt); err != nil {
		return err
	}

	status := model.StallStatus{
		StallID:      stallID,
		CurrentScore: l.cfg.RecoveryScore,
		State:        scoring.StateForScore(l.cfg.RecoveryScore),
		LastUpdated:  time.Now(),
	}
	if err := l.store.UpsertStatus(ctx, status); err != nil {
		return err
	}

	l.events.StatusUpdate(stallID, status.State, status.CurrentScore)
	l.events.TriggerUpdated(triggerID, model.TriggerCompleted)
	return nil
}

func (l *Lifecycle) mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrTriggerNotFound
	}
	return err
}

// invalidState builds the rejection for an operator command that lost the
// race, reporting the status that beat it.
func (l *Lifecycle) invalidState(ctx context.Context, triggerID string) error {
	t, err := l.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return l.mapStoreErr(err)
	}
	return &InvalidStateError{TriggerID: triggerID, Status: t.Status}
}
