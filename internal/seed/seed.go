// Package seed populates a fresh database with stalls and a week of
// plausible visit history. It is a one-shot batch: the same scoring
// algorithm as the live motor, driven by a fixed-seed random source so
// repeated runs against an empty database produce the same history.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wctv/backend/internal/config"
	"github.com/wctv/backend/internal/model"
	"github.com/wctv/backend/internal/scoring"
	"github.com/wctv/backend/internal/store"
)

const (
	dayOpenHour  = 7
	dayCloseHour = 17
)

// Run seeds stalls if none exist, then a visit history if no sessions
// exist. An already-populated database is left untouched.
func Run(ctx context.Context, st *store.Store, cfg config.Seed, motor config.Motor, log zerolog.Logger) error {
	log = log.With().Str("component", "seed").Logger()

	stallCount, err := st.CountStalls(ctx)
	if err != nil {
		return fmt.Errorf("count stalls: %w", err)
	}

	now := time.Now().UTC()
	var stalls []model.Stall

	if stallCount == 0 {
		stalls, err = createStalls(ctx, st, cfg.StallCount, now)
		if err != nil {
			return err
		}
		log.Info().Int("stalls", len(stalls)).Msg("created stalls")
	} else {
		stalls, err = st.ListStalls(ctx)
		if err != nil {
			return fmt.Errorf("list stalls: %w", err)
		}
	}

	sessionCount, err := st.SessionCount(ctx)
	if err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	if sessionCount > 0 {
		return nil
	}

	if err := seedHistory(ctx, st, stalls, cfg, motor, now); err != nil {
		return err
	}
	log.Info().Msg("seeded visit history")
	return nil
}

func createStalls(ctx context.Context, st *store.Store, count int, now time.Time) ([]model.Stall, error) {
	created := now.AddDate(0, 0, -7)
	stalls := make([]model.Stall, 0, count)

	for i := 1; i <= count; i++ {
		location := "Building A, 1st floor"
		if i > count/2 {
			location = "Building A, 2nd floor"
		}
		stall := model.Stall{
			ID:          uuid.NewString(),
			Name:        fmt.Sprintf("Stall %d", i),
			Location:    location,
			StallNumber: i,
			CreatedAt:   created,
		}
		if err := st.InsertStall(ctx, stall); err != nil {
			return nil, fmt.Errorf("insert stall %d: %w", i, err)
		}
		if err := st.UpsertStatus(ctx, model.StallStatus{
			StallID:      stall.ID,
			CurrentScore: 0.92,
			State:        model.StateOK,
			LastUpdated:  created,
		}); err != nil {
			return nil, fmt.Errorf("insert status %d: %w", i, err)
		}
		stalls = append(stalls, stall)
	}
	return stalls, nil
}

// seedHistory writes per-stall session chains over the past HistoryDays
// days. Sessions are generated stall by stall so the same stall never
// overlaps itself and each stall's score evolves through its own chain.
func seedHistory(ctx context.Context, st *store.Store, stalls []model.Stall, cfg config.Seed, motor config.Motor, now time.Time) error {
	rng := rand.New(rand.NewSource(cfg.RandomSeed))
	gen := scoring.NewGenerator(rng)

	// Realistic starting scores, not all pristine: 88-98%.
	scores := make(map[string]float64, len(stalls))
	for _, stall := range stalls {
		scores[stall.ID] = 0.88 + rng.Float64()*0.10
	}

	for _, stall := range stalls {
		// Lower-floor stalls are busier than the upper floor.
		busy := stall.StallNumber <= len(stalls)/2
		minGap, maxGap := 22, 48 // minutes between visits
		if busy {
			minGap, maxGap = 12, 28
		}

		for dayOffset := -(cfg.HistoryDays - 1); dayOffset <= 0; dayOffset++ {
			day := now.Truncate(24 * time.Hour).AddDate(0, 0, dayOffset)
			cursor := day.Add(time.Duration(dayOpenHour)*time.Hour +
				time.Duration(rng.Intn(minGap))*time.Minute)
			dayEnd := day.Add(time.Duration(dayCloseHour) * time.Hour)
			if dayOffset == 0 {
				dayEnd = now.Add(-5 * time.Minute)
			}

			for cursor.Before(dayEnd) {
				dur := time.Duration(3+rng.Intn(6)) * time.Minute // visit: 3-8 min
				end := cursor.Add(dur)
				if end.After(dayEnd) {
					break
				}

				if err := seedVisit(ctx, st, gen, rng, stall, scores, cursor, end, now, motor); err != nil {
					return err
				}

				gap := time.Duration(minGap+rng.Intn(maxGap-minGap+1)) * time.Minute
				cursor = end.Add(gap)
			}
		}
	}

	// Final stall conditions reflect where each chain ended up.
	for _, stall := range stalls {
		score := scores[stall.ID]
		if err := st.UpsertStatus(ctx, model.StallStatus{
			StallID:      stall.ID,
			CurrentScore: score,
			State:        scoring.StateForScore(score),
			LastUpdated:  now.Add(-time.Duration(1+rng.Intn(29)) * time.Minute),
		}); err != nil {
			return fmt.Errorf("final status for %s: %w", stall.Name, err)
		}
	}

	return nil
}

// seedVisit records one historical session with its snapshots, assessment,
// event log row and, when the outcome warrants, a trigger whose resolution
// is back-dated according to how much time has since elapsed.
func seedVisit(ctx context.Context, st *store.Store, gen *scoring.Generator, rng *rand.Rand,
	stall model.Stall, scores map[string]float64, start, end, now time.Time, motor config.Motor) error {

	before := scores[stall.ID]
	outcome := gen.Generate(before)
	ended := end

	sess := model.Session{
		ID:        uuid.NewString(),
		StallID:   stall.ID,
		StartedAt: start,
		EndedAt:   &ended,
		ExitEvent: model.ExitEvents[rng.Intn(len(model.ExitEvents))],
		Status:    model.SessionCompleted,
	}
	if err := st.InsertSession(ctx, sess); err != nil {
		return fmt.Errorf("seed session: %w", err)
	}

	snapshots := []model.Snapshot{
		{ID: uuid.NewString(), SessionID: sess.ID, Kind: model.SnapshotBefore,
			Score: before, Confidence: 0.90 + rng.Float64()*0.10, TakenAt: start},
		{ID: uuid.NewString(), SessionID: sess.ID, Kind: model.SnapshotAfter,
			Score: outcome.AfterScore, Confidence: outcome.Confidence, TakenAt: end},
	}
	for _, sn := range snapshots {
		if err := st.InsertSnapshot(ctx, sn); err != nil {
			return fmt.Errorf("seed snapshot: %w", err)
		}
	}

	if err := st.InsertAssessment(ctx, model.Assessment{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		BeforeScore:    before,
		AfterScore:     outcome.AfterScore,
		Confidence:     outcome.Confidence,
		Result:         outcome.Result,
		ChangeMetadata: seedJSON(map[string]any{"delta": outcome.Delta}),
		AssessedAt:     end,
	}); err != nil {
		return fmt.Errorf("seed assessment: %w", err)
	}

	if err := st.AppendEvent(ctx, model.EventLog{
		ID:        uuid.NewString(),
		EventType: "score",
		StallID:   stall.ID,
		SessionID: sess.ID,
		Payload: seedJSON(map[string]any{
			"result":     outcome.Result.String(),
			"afterScore": outcome.AfterScore,
			"confidence": outcome.Confidence,
		}),
		LoggedAt: end,
	}); err != nil {
		return fmt.Errorf("seed event log: %w", err)
	}

	scores[stall.ID] = outcome.AfterScore

	if !outcome.HasSeverity {
		return nil
	}

	ackDelay := randDuration(rng, motor.AckDelayMin, motor.AckDelayMax)
	cleanDelay := randDuration(rng, motor.CleanDelayMin, motor.CleanDelayMax)
	ackAt := end.Add(ackDelay)
	resolvedAt := ackAt.Add(cleanDelay)
	isToday := end.Year() == now.Year() && end.YearDay() == now.YearDay()

	var status model.TriggerStatus
	var ackStamp *time.Time

	switch {
	case !isToday || resolvedAt.Before(now.Add(-time.Minute)):
		// Fully elapsed: resolved one way or the other.
		if rng.Float64() < motor.FalsePositiveRate {
			status = model.TriggerFalsePositive
		} else {
			status = model.TriggerCompleted
		}
		ackStamp = &ackAt
	case ackAt.Before(now):
		// Acknowledge window passed, cleaning still pending.
		status = model.TriggerAcknowledged
		ackStamp = &ackAt
	default:
		status = model.TriggerActive
	}

	trigger := model.CleaningTrigger{
		ID:        uuid.NewString(),
		StallID:   stall.ID,
		SessionID: sess.ID,
		Severity:  outcome.Severity,
		Status:    status,
		ChangeMetadata: seedJSON(map[string]any{
			"delta":  outcome.Delta,
			"result": outcome.Result.String(),
		}),
		Confidence:     outcome.Confidence,
		CreatedAt:      end,
		AcknowledgedAt: ackStamp,
	}
	if err := st.InsertTrigger(ctx, trigger); err != nil {
		return fmt.Errorf("seed trigger: %w", err)
	}

	if status == model.TriggerCompleted {
		if err := st.InsertReceipt(ctx, model.CleaningReceipt{
			ID:          uuid.NewString(),
			TriggerID:   trigger.ID,
			CompletedAt: resolvedAt,
		}); err != nil {
			return fmt.Errorf("seed receipt: %w", err)
		}
		scores[stall.ID] = motor.RecoveryScore
	}

	return nil
}

func randDuration(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

func seedJSON(v map[string]any) string {
	data, _ := json.Marshal(v)
	return string(data)
}
