// Package api exposes the operator-facing HTTP surface: stall and trigger
// queries, the three guarded trigger commands, KPI reports, and the
// websocket upgrade for live events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/wctv/backend/internal/engine"
	"github.com/wctv/backend/internal/model"
	"github.com/wctv/backend/internal/store"
	"github.com/wctv/backend/internal/ws"
)

type Server struct {
	store       *store.Store
	broadcaster *ws.Broadcaster
	lifecycle   *engine.Lifecycle
	log         zerolog.Logger
}

func NewServer(st *store.Store, broadcaster *ws.Broadcaster, lifecycle *engine.Lifecycle, log zerolog.Logger) *Server {
	return &Server{
		store:       st,
		broadcaster: broadcaster,
		lifecycle:   lifecycle,
		log:         log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/api/health", s.handleHealth)

	r.Route("/api/stalls", func(r chi.Router) {
		r.Get("/", s.handleStalls)
		r.Get("/{id}", s.handleStall)
	})

	r.Route("/api/triggers", func(r chi.Router) {
		r.Get("/", s.handleOpenTriggers)
		r.Patch("/{id}/acknowledge", s.handleAcknowledge)
		r.Patch("/{id}/complete", s.handleComplete)
		r.Patch("/{id}/false-positive", s.handleFalsePositive)
	})

	r.Route("/api/kpi", func(r chi.Router) {
		r.Get("/", s.handleKPI)
		r.Get("/daily", s.handleDailyKPI)
		r.Get("/export", s.handleExport)
	})

	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	s.log.Info().Str("remote", r.RemoteAddr).Msg("ws client connected")
	c := s.broadcaster.AddClient(r.Context(), conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleStalls(w http.ResponseWriter, r *http.Request) {
	stalls, err := s.store.ListOverviews(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stalls)
}

func (s *Server) handleStall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stall, err := s.store.GetStall(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "stall not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}

	status, err := s.store.GetStatus(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.internalError(w, err)
		return
	}

	recent, err := s.store.RecentSessions(r.Context(), id, 10)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stall":          stall,
		"status":         status,
		"recentSessions": recent,
	})
}

// handleOpenTriggers lists the non-terminal triggers for display. Storage
// never merges triggers; the dedup here is presentation only: per stall the
// "current" trigger is picked by acknowledged first, then severity, then
// recency, and the final list is ordered severe-first, oldest-first.
func (s *Server) handleOpenTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.store.OpenTriggers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	byStall := make(map[string]store.TriggerWithStall)
	for _, t := range triggers {
		current, ok := byStall[t.StallID]
		if !ok || ranksAbove(t, current) {
			byStall[t.StallID] = t
		}
	}

	deduped := make([]store.TriggerWithStall, 0, len(byStall))
	for _, t := range byStall {
		deduped = append(deduped, t)
	}
	sort.Slice(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if (a.Severity == model.SeveritySevere) != (b.Severity == model.SeveritySevere) {
			return a.Severity == model.SeveritySevere
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	writeJSON(w, http.StatusOK, deduped)
}

// ranksAbove reports whether a should displace b as a stall's current
// trigger: acknowledged beats active, severe beats light, newer beats older.
func ranksAbove(a, b store.TriggerWithStall) bool {
	aAck := a.Status == model.TriggerAcknowledged
	bAck := b.Status == model.TriggerAcknowledged
	if aAck != bAck {
		return aAck
	}
	aSev := a.Severity == model.SeveritySevere
	bSev := b.Severity == model.SeveritySevere
	if aSev != bSev {
		return aSev
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.lifecycle.Acknowledge)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.lifecycle.Complete)
}

func (s *Server) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.lifecycle.MarkFalsePositive)
}

type commandFunc func(ctx context.Context, id string) (*model.CleaningTrigger, error)

// runCommand maps a lifecycle command result onto HTTP: 404 when the
// trigger never existed, 409 with the observed state when the precondition
// failed (the race was lost), 200 with the trigger otherwise.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, command commandFunc) {
	id := chi.URLParam(r, "id")

	trigger, err := command(r.Context(), id)
	if err != nil {
		var invalid *engine.InvalidStateError
		switch {
		case errors.Is(err, engine.ErrTriggerNotFound):
			writeError(w, http.StatusNotFound, "trigger not found")
		case errors.As(err, &invalid):
			writeError(w, http.StatusConflict, invalid.Error())
		default:
			s.internalError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, trigger)
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return false
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
