// Package engine drives the simulated life of the stalls: a continuous
// visit simulator (the "motor") and the cleaning-trigger lifecycle with its
// race between autonomous resolution and operator commands.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wctv/backend/internal/config"
	"github.com/wctv/backend/internal/model"
	"github.com/wctv/backend/internal/scoring"
	"github.com/wctv/backend/internal/store"
)

// Motor periodically simulates a visit on a random idle stall: open a
// session, dwell, score the outcome, close the session and update the
// stall's condition, raising a cleaning trigger when the outcome warrants
// one. A failed cycle is logged and the loop continues.
type Motor struct {
	cfg       config.Motor
	store     *store.Store
	gen       *scoring.Generator
	events    Events
	lifecycle *Lifecycle
	rng       *Rand
	log       zerolog.Logger
}

func NewMotor(cfg config.Motor, st *store.Store, gen *scoring.Generator, events Events, lifecycle *Lifecycle, rng *Rand, log zerolog.Logger) *Motor {
	return &Motor{
		cfg:       cfg,
		store:     st,
		gen:       gen,
		events:    events,
		lifecycle: lifecycle,
		rng:       rng,
		log:       log.With().Str("component", "motor").Logger(),
	}
}

// Run loops until the context is cancelled: random inter-arrival delay,
// then one simulated visit.
func (m *Motor) Run(ctx context.Context) {
	m.log.Info().Msg("motor started")
	for {
		if !sleep(ctx, m.rng.Duration(m.cfg.VisitGapMin, m.cfg.VisitGapMax)) {
			m.log.Info().Msg("motor stopped")
			return
		}
		if err := m.SimulateVisit(ctx); err != nil {
			if ctx.Err() != nil {
				m.log.Info().Msg("motor stopped")
				return
			}
			m.log.Error().Err(err).Msg("visit cycle failed")
		}
	}
}

// SimulateVisit performs one full visit cycle. Exported so tests can drive
// cycles directly.
func (m *Motor) SimulateVisit(ctx context.Context) error {
	idle, err := m.store.IdleStalls(ctx)
	if err != nil {
		return fmt.Errorf("list idle stalls: %w", err)
	}
	if len(idle) == 0 {
		// Every stall is occupied; not an error, just skip this tick.
		m.log.Debug().Msg("no idle stall available, skipping visit")
		return nil
	}

	pick := idle[m.rng.Intn(len(idle))]
	currentScore := 1.0
	if pick.Status != nil {
		currentScore = pick.Status.CurrentScore
	}

	sess := model.Session{
		ID:        uuid.NewString(),
		StallID:   pick.Stall.ID,
		StartedAt: time.Now(),
		Status:    model.SessionActive,
	}
	if err := m.store.InsertSession(ctx, sess); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	before := model.Snapshot{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Kind:       model.SnapshotBefore,
		Score:      currentScore,
		Confidence: 0.90 + m.rng.Float64()*0.10,
		TakenAt:    time.Now(),
	}
	if err := m.store.InsertSnapshot(ctx, before); err != nil {
		return fmt.Errorf("before snapshot: %w", err)
	}

	m.events.SessionStarted(pick.Stall.ID, sess.ID)
	m.log.Info().
		Str("session_id", sess.ID).
		Str("stall", pick.Stall.Name).
		Msg("session started")

	if !sleep(ctx, m.rng.Duration(m.cfg.DwellMin, m.cfg.DwellMax)) {
		// Shutdown mid-visit: leave the session as-is and unwind.
		return ctx.Err()
	}

	outcome := m.gen.Generate(currentScore)
	now := time.Now()

	after := model.Snapshot{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Kind:       model.SnapshotAfter,
		Score:      outcome.AfterScore,
		Confidence: outcome.Confidence,
		TakenAt:    now,
	}
	if err := m.store.InsertSnapshot(ctx, after); err != nil {
		return fmt.Errorf("after snapshot: %w", err)
	}

	exitEvent := model.ExitEvents[m.rng.Intn(len(model.ExitEvents))]
	if err := m.store.CompleteSession(ctx, sess.ID, now, exitEvent); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	assessment := model.Assessment{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		BeforeScore:    outcome.BeforeScore,
		AfterScore:     outcome.AfterScore,
		Confidence:     outcome.Confidence,
		Result:         outcome.Result,
		ChangeMetadata: mustJSON(map[string]any{"delta": outcome.Delta}),
		AssessedAt:     now,
	}
	if err := m.store.InsertAssessment(ctx, assessment); err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}

	state := scoring.StateFor(outcome.Result)
	status := model.StallStatus{
		StallID:      pick.Stall.ID,
		CurrentScore: outcome.AfterScore,
		State:        state,
		LastUpdated:  now,
	}
	if err := m.store.UpsertStatus(ctx, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	m.events.SessionEnded(pick.Stall.ID, sess.ID, outcome.Result)
	m.events.StatusUpdate(pick.Stall.ID, state, outcome.AfterScore)
	m.log.Info().
		Str("session_id", sess.ID).
		Str("result", outcome.Result.String()).
		Float64("score", outcome.AfterScore).
		Msg("session ended")

	if outcome.HasSeverity {
		if err := m.raiseTrigger(ctx, pick.Stall, sess.ID, outcome); err != nil {
			return err
		}
	}

	logEntry := model.EventLog{
		ID:        uuid.NewString(),
		EventType: "score",
		StallID:   pick.Stall.ID,
		SessionID: sess.ID,
		Payload: mustJSON(map[string]any{
			"result":     outcome.Result.String(),
			"afterScore": outcome.AfterScore,
			"confidence": outcome.Confidence,
		}),
		LoggedAt: now,
	}
	if err := m.store.AppendEvent(ctx, logEntry); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}

	return nil
}

// raiseTrigger creates exactly one cleaning trigger for a qualifying
// session and hands it to the lifecycle manager, fire-and-forget.
func (m *Motor) raiseTrigger(ctx context.Context, stall model.Stall, sessionID string, outcome scoring.Outcome) error {
	trigger := model.CleaningTrigger{
		ID:        uuid.NewString(),
		StallID:   stall.ID,
		SessionID: sessionID,
		Severity:  outcome.Severity,
		Status:    model.TriggerActive,
		ChangeMetadata: mustJSON(map[string]any{
			"delta":  outcome.Delta,
			"result": outcome.Result.String(),
		}),
		Confidence: outcome.Confidence,
		CreatedAt:  time.Now(),
	}
	if err := m.store.InsertTrigger(ctx, trigger); err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}

	m.events.TriggerCreated(trigger, stall.Name)
	m.log.Info().
		Str("trigger_id", trigger.ID).
		Str("stall", stall.Name).
		Str("severity", trigger.Severity.String()).
		Msg("trigger created")

	m.lifecycle.Spawn(ctx, trigger)
	return nil
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// All inputs are engine-built maps of primitives.
		panic(err)
	}
	return string(data)
}
