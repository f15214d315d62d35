package api

import (
	"math"
	"net/http"
	"time"

	"github.com/wctv/backend/internal/model"
)

// handleKPI serves the weekly headline numbers: how often visits degrade a
// stall, how fast triggers get resolved, and what is still open.
func (s *Server) handleKPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()
	weekAgo := now.AddDate(0, 0, -7)

	totalSessions, err := s.store.CompletedSessionCountSince(ctx, weekAgo)
	if err != nil {
		s.internalError(w, err)
		return
	}

	counts, err := s.store.AssessmentResultCountsSince(ctx, weekAgo)
	if err != nil {
		s.internalError(w, err)
		return
	}
	deteriorations := counts[model.ResultLightDeterioration] + counts[model.ResultSevereDeterioration]
	okCount := counts[model.ResultOK]

	var deteriorationRate, okRate float64
	if totalSessions > 0 {
		deteriorationRate = float64(deteriorations) / float64(totalSessions) * 100
		okRate = float64(okCount) / float64(totalSessions) * 100
	}

	avgResponse, _, err := s.store.AvgTriggerResponseMinutesSince(ctx, weekAgo)
	if err != nil {
		s.internalError(w, err)
		return
	}

	openTriggers, err := s.store.OpenTriggerCount(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deteriorationRate":     round1(deteriorationRate),
		"avgResponseMinutes":    round1(avgResponse),
		"activeTriggers":        openTriggers,
		"okRate":                round1(okRate),
		"totalSessionsThisWeek": totalSessions,
		"period":                "week",
	})
}

type hourlyBucket struct {
	Hour          int     `json:"hour"`
	AvgScore      float64 `json:"avgScore"`
	Visits        int     `json:"visits"`
	NeedsCleaning int     `json:"needsCleaning"`
}

// handleDailyKPI serves today's assessments bucketed by hour.
func (s *Server) handleDailyKPI(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	tomorrow := today.AddDate(0, 0, 1)

	assessments, err := s.store.AssessmentsBetween(r.Context(), today, tomorrow)
	if err != nil {
		s.internalError(w, err)
		return
	}

	buckets := make(map[int]*hourlyBucket)
	for _, a := range assessments {
		h := a.AssessedAt.UTC().Hour()
		b, ok := buckets[h]
		if !ok {
			b = &hourlyBucket{Hour: h}
			buckets[h] = b
		}
		b.Visits++
		b.AvgScore += a.AfterScore
		if a.Result == model.ResultLightDeterioration || a.Result == model.ResultSevereDeterioration {
			b.NeedsCleaning++
		}
	}

	hourly := make([]hourlyBucket, 0, len(buckets))
	for h := 0; h < 24; h++ {
		b, ok := buckets[h]
		if !ok {
			continue
		}
		b.AvgScore = round1(b.AvgScore / float64(b.Visits) * 100)
		hourly = append(hourly, *b)
	}

	writeJSON(w, http.StatusOK, hourly)
}

// handleExport dumps the raw sessions and triggers for a period, for
// offline analysis.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	period := r.URL.Query().Get("period")
	from := now.AddDate(0, 0, -7)
	if period == "month" {
		from = now.AddDate(0, 0, -30)
	} else {
		period = "week"
	}

	sessions, err := s.store.CompletedSessionsSince(r.Context(), from)
	if err != nil {
		s.internalError(w, err)
		return
	}
	triggers, err := s.store.TriggersSince(r.Context(), from)
	if err != nil {
		s.internalError(w, err)
		return
	}
	events, err := s.store.EventsSince(r.Context(), from)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exportedAt": now,
		"period":     period,
		"sessions":   sessions,
		"triggers":   triggers,
		"events":     events,
	})
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
