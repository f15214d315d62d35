package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/wctv/backend/internal/config"
	"github.com/wctv/backend/internal/engine"
	"github.com/wctv/backend/internal/model"
	"github.com/wctv/backend/internal/store"
	"github.com/wctv/backend/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	log := zerolog.Nop()
	broadcaster := ws.NewBroadcaster(st, 0, log)
	cfg := config.Motor{
		AckDelayMin: time.Hour, AckDelayMax: 2 * time.Hour,
		CleanDelayMin: time.Hour, CleanDelayMax: 2 * time.Hour,
		RecoveryScore: 0.92,
	}
	lifecycle := engine.NewLifecycle(cfg, st, broadcaster, engine.NewRand(1), log)

	srv := httptest.NewServer(NewServer(st, broadcaster, lifecycle, log).Routes())
	t.Cleanup(srv.Close)
	return srv, st
}

func seedStall(t *testing.T, st *store.Store, id string, number int) {
	t.Helper()
	if err := st.InsertStall(context.Background(), model.Stall{
		ID: id, Name: "Stall " + id, Location: "Building A, 1st Floor",
		StallNumber: number, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert stall: %v", err)
	}
}

func seedTrigger(t *testing.T, st *store.Store, id, stallID string, severity model.Severity, status model.TriggerStatus, created time.Time) {
	t.Helper()
	ctx := context.Background()
	sessID := "sess-" + id
	if err := st.InsertSession(ctx, model.Session{
		ID: sessID, StallID: stallID, StartedAt: created, Status: model.SessionCompleted,
	}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if err := st.InsertTrigger(ctx, model.CleaningTrigger{
		ID: id, StallID: stallID, SessionID: sessID,
		Severity: severity, Status: status, Confidence: 0.9, CreatedAt: created,
	}); err != nil {
		t.Fatalf("insert trigger: %v", err)
	}
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func patch(t *testing.T, url string, into any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]any
	if code := getJSON(t, srv.URL+"/api/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Errorf(`status field = %v, want "ok"`, body["status"])
	}
}

func TestStallEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	seedStall(t, st, "s1", 1)
	seedStall(t, st, "s2", 2)
	if err := st.UpsertStatus(context.Background(), model.StallStatus{
		StallID: "s1", CurrentScore: 0.88, State: model.StateOK, LastUpdated: time.Now(),
	}); err != nil {
		t.Fatalf("upsert status: %v", err)
	}

	var list []store.StallOverview
	if code := getJSON(t, srv.URL+"/api/stalls", &list); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(list) != 2 {
		t.Fatalf("got %d stalls, want 2", len(list))
	}
	if list[0].Status == nil || list[0].Status.CurrentScore != 0.88 {
		t.Errorf("s1 overview status = %+v", list[0].Status)
	}

	var detail struct {
		Stall  model.Stall        `json:"stall"`
		Status *model.StallStatus `json:"status"`
	}
	if code := getJSON(t, srv.URL+"/api/stalls/s1", &detail); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if detail.Stall.Name != "Stall s1" {
		t.Errorf("stall name = %q", detail.Stall.Name)
	}

	if code := getJSON(t, srv.URL+"/api/stalls/nope", nil); code != http.StatusNotFound {
		t.Errorf("unknown stall status = %d, want 404", code)
	}
}

func TestTriggerCommands(t *testing.T) {
	srv, st := newTestServer(t)
	seedStall(t, st, "s1", 1)
	seedTrigger(t, st, "t1", "s1", model.SeveritySevere, model.TriggerActive, time.Now())

	var acked model.CleaningTrigger
	if code := patch(t, srv.URL+"/api/triggers/t1/acknowledge", &acked); code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, want 200", code)
	}
	if acked.Status != model.TriggerAcknowledged {
		t.Errorf("status = %v, want acknowledged", acked.Status)
	}

	// Precondition already consumed: the repeat reports the conflict.
	var conflict map[string]string
	if code := patch(t, srv.URL+"/api/triggers/t1/acknowledge", &conflict); code != http.StatusConflict {
		t.Fatalf("second acknowledge status = %d, want 409", code)
	}
	if conflict["error"] == "" {
		t.Error("conflict response has no error message")
	}

	var done model.CleaningTrigger
	if code := patch(t, srv.URL+"/api/triggers/t1/complete", &done); code != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", code)
	}
	if done.Status != model.TriggerCompleted {
		t.Errorf("status = %v, want completed", done.Status)
	}

	if code := patch(t, srv.URL+"/api/triggers/t1/false-positive", nil); code != http.StatusConflict {
		t.Errorf("false-positive on completed trigger status = %d, want 409", code)
	}
	if code := patch(t, srv.URL+"/api/triggers/missing/complete", nil); code != http.StatusNotFound {
		t.Errorf("unknown trigger status = %d, want 404", code)
	}
}

func TestOpenTriggersDedupAndOrder(t *testing.T) {
	srv, st := newTestServer(t)
	seedStall(t, st, "s1", 1)
	seedStall(t, st, "s2", 2)

	base := time.Now().Add(-time.Hour)
	// s1 holds two active triggers: the severe one represents the stall.
	seedTrigger(t, st, "s1-light", "s1", model.SeverityLight, model.TriggerActive, base)
	seedTrigger(t, st, "s1-severe", "s1", model.SeveritySevere, model.TriggerActive, base.Add(10*time.Minute))
	// s2: an acknowledged light trigger outranks a newer active severe one.
	seedTrigger(t, st, "s2-acked", "s2", model.SeverityLight, model.TriggerAcknowledged, base.Add(5*time.Minute))
	seedTrigger(t, st, "s2-severe", "s2", model.SeveritySevere, model.TriggerActive, base.Add(20*time.Minute))
	// Terminal triggers never show up.
	seedTrigger(t, st, "s2-done", "s2", model.SeveritySevere, model.TriggerCompleted, base)

	var got []store.TriggerWithStall
	if code := getJSON(t, srv.URL+"/api/triggers", &got); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(got) != 2 {
		t.Fatalf("got %d triggers, want 2 (one per stall)", len(got))
	}
	// Severe before light across stalls.
	if got[0].ID != "s1-severe" {
		t.Errorf("first trigger = %q, want s1-severe", got[0].ID)
	}
	if got[1].ID != "s2-acked" {
		t.Errorf("second trigger = %q, want s2-acked", got[1].ID)
	}
}

func TestKPIEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	seedStall(t, st, "s1", 1)

	ctx := context.Background()
	started := time.Now().Add(-2 * time.Hour)
	if err := st.InsertSession(ctx, model.Session{
		ID: "sess1", StallID: "s1", StartedAt: started, Status: model.SessionActive,
	}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if err := st.CompleteSession(ctx, "sess1", started.Add(5*time.Minute), "card_scan"); err != nil {
		t.Fatalf("complete session: %v", err)
	}
	if err := st.InsertAssessment(ctx, model.Assessment{
		ID: "a1", SessionID: "sess1", BeforeScore: 0.9, AfterScore: 0.6,
		Confidence: 0.9, Result: model.ResultSevereDeterioration,
		AssessedAt: started.Add(5 * time.Minute),
	}); err != nil {
		t.Fatalf("insert assessment: %v", err)
	}

	var kpi map[string]any
	if code := getJSON(t, srv.URL+"/api/kpi", &kpi); code != http.StatusOK {
		t.Fatalf("kpi status = %d, want 200", code)
	}
	if kpi["totalSessionsThisWeek"] != float64(1) {
		t.Errorf("totalSessionsThisWeek = %v, want 1", kpi["totalSessionsThisWeek"])
	}
	if kpi["deteriorationRate"] != float64(100) {
		t.Errorf("deteriorationRate = %v, want 100", kpi["deteriorationRate"])
	}

	var export map[string]any
	if code := getJSON(t, srv.URL+"/api/kpi/export?period=month", &export); code != http.StatusOK {
		t.Fatalf("export status = %d, want 200", code)
	}
	if export["period"] != "month" {
		t.Errorf("export period = %v, want month", export["period"])
	}

	if code := getJSON(t, srv.URL+"/api/kpi/daily", nil); code != http.StatusOK {
		t.Errorf("daily status = %d, want 200", code)
	}
}
