package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wctv/backend/internal/model"
)

func (s *Store) InsertStall(ctx context.Context, st model.Stall) error {
	return s.execContext(ctx, `
		INSERT INTO stalls (id, name, location, stall_number, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Location, st.StallNumber, fmtTime(st.CreatedAt))
}

func (s *Store) CountStalls(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stalls`).Scan(&n)
	return n, err
}

func (s *Store) GetStall(ctx context.Context, id string) (*model.Stall, error) {
	var st model.Stall
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, stall_number, created_at
		FROM stalls WHERE id = ?`, id).
		Scan(&st.ID, &st.Name, &st.Location, &st.StallNumber, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if st.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListStalls(ctx context.Context) ([]model.Stall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, location, stall_number, created_at
		FROM stalls ORDER BY stall_number`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stalls []model.Stall
	for rows.Next() {
		var st model.Stall
		var created string
		if err := rows.Scan(&st.ID, &st.Name, &st.Location, &st.StallNumber, &created); err != nil {
			return nil, err
		}
		if st.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		stalls = append(stalls, st)
	}
	return stalls, rows.Err()
}

func (s *Store) UpsertStatus(ctx context.Context, status model.StallStatus) error {
	return s.execContext(ctx, `
		INSERT INTO stall_statuses (stall_id, current_score, state, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(stall_id) DO UPDATE SET
			current_score = excluded.current_score,
			state = excluded.state,
			last_updated = excluded.last_updated`,
		status.StallID, status.CurrentScore, status.State.String(), fmtTime(status.LastUpdated))
}

func (s *Store) GetStatus(ctx context.Context, stallID string) (*model.StallStatus, error) {
	var st model.StallStatus
	var state, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT stall_id, current_score, state, last_updated
		FROM stall_statuses WHERE stall_id = ?`, stallID).
		Scan(&st.StallID, &st.CurrentScore, &state, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if v, ok := model.StallStateFromName(state); ok {
		st.State = v
	} else {
		return nil, fmt.Errorf("stall %s: unknown state %q", stallID, state)
	}
	if st.LastUpdated, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &st, nil
}

// StallOverview bundles a stall with its live condition and any active
// session, as served by the stall list endpoint and consumed by the motor.
type StallOverview struct {
	Stall         model.Stall        `json:"stall"`
	Status        *model.StallStatus `json:"status,omitempty"`
	ActiveSession *model.Session     `json:"activeSession,omitempty"`
}

// ListOverviews returns all stalls ordered by stall number, each with its
// status row and active session if present.
func (s *Store) ListOverviews(ctx context.Context) ([]StallOverview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.name, st.location, st.stall_number, st.created_at,
		       ss.current_score, ss.state, ss.last_updated,
		       se.id, se.started_at
		FROM stalls st
		LEFT JOIN stall_statuses ss ON ss.stall_id = st.id
		LEFT JOIN sessions se ON se.stall_id = st.id AND se.status = 'active'
		ORDER BY st.stall_number`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StallOverview
	for rows.Next() {
		var ov StallOverview
		var created string
		var score sql.NullFloat64
		var state, updated, sessID, sessStarted sql.NullString
		if err := rows.Scan(
			&ov.Stall.ID, &ov.Stall.Name, &ov.Stall.Location, &ov.Stall.StallNumber, &created,
			&score, &state, &updated,
			&sessID, &sessStarted,
		); err != nil {
			return nil, err
		}
		if ov.Stall.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if score.Valid {
			status := model.StallStatus{StallID: ov.Stall.ID, CurrentScore: score.Float64}
			if v, ok := model.StallStateFromName(state.String); ok {
				status.State = v
			}
			if status.LastUpdated, err = parseTime(updated.String); err != nil {
				return nil, err
			}
			ov.Status = &status
		}
		if sessID.Valid {
			sess := model.Session{ID: sessID.String, StallID: ov.Stall.ID, Status: model.SessionActive}
			if sess.StartedAt, err = parseTime(sessStarted.String); err != nil {
				return nil, err
			}
			ov.ActiveSession = &sess
		}
		out = append(out, ov)
	}
	return out, rows.Err()
}

// IdleStalls returns the stalls with no active session, with their current
// condition. The motor samples one of these per visit.
func (s *Store) IdleStalls(ctx context.Context) ([]StallOverview, error) {
	all, err := s.ListOverviews(ctx)
	if err != nil {
		return nil, err
	}
	idle := all[:0]
	for _, ov := range all {
		if ov.ActiveSession == nil {
			idle = append(idle, ov)
		}
	}
	return idle, nil
}

func (s *Store) SessionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

func (s *Store) InsertSession(ctx context.Context, sess model.Session) error {
	return s.execContext(ctx, `
		INSERT INTO sessions (id, stall_id, started_at, ended_at, exit_event, status)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)`,
		sess.ID, sess.StallID, fmtTime(sess.StartedAt), fmtTimePtr(sess.EndedAt),
		sess.ExitEvent, sess.Status.String())
}

// CompleteSession marks an active session completed. Completing a session
// that is not active (or does not exist) returns ErrNotFound.
func (s *Store) CompleteSession(ctx context.Context, id string, endedAt time.Time, exitEvent string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'completed', ended_at = ?, exit_event = ?
		WHERE id = ? AND status = 'active'`,
		fmtTime(endedAt), exitEvent, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	var started, status string
	var ended, exit sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, stall_id, started_at, ended_at, exit_event, status
		FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.StallID, &started, &ended, &exit, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if sess.EndedAt, err = parseTimePtr(ended); err != nil {
		return nil, err
	}
	sess.ExitEvent = exit.String
	if v, ok := model.SessionStatusFromName(status); ok {
		sess.Status = v
	}
	return &sess, nil
}

// ActiveSessionCount reports how many sessions are active for a stall.
// With the partial unique index this can only be 0 or 1.
func (s *Store) ActiveSessionCount(ctx context.Context, stallID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE stall_id = ? AND status = 'active'`, stallID).Scan(&n)
	return n, err
}

// SessionWithAssessment pairs a session with its assessment, if scored.
type SessionWithAssessment struct {
	Session    model.Session     `json:"session"`
	Assessment *model.Assessment `json:"assessment,omitempty"`
}

// RecentSessions returns the most recent sessions for a stall, newest
// first, with assessments attached.
func (s *Store) RecentSessions(ctx context.Context, stallID string, limit int) ([]SessionWithAssessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT se.id, se.stall_id, se.started_at, se.ended_at, se.exit_event, se.status,
		       a.id, a.before_score, a.after_score, a.confidence, a.result, a.change_metadata, a.assessed_at
		FROM sessions se
		LEFT JOIN assessments a ON a.session_id = se.id
		WHERE se.stall_id = ?
		ORDER BY se.started_at DESC
		LIMIT ?`, stallID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SessionWithAssessment
	for rows.Next() {
		var item SessionWithAssessment
		var started, status string
		var ended, exit sql.NullString
		var aID, aResult, aMeta, aAt sql.NullString
		var aBefore, aAfter, aConf sql.NullFloat64
		if err := rows.Scan(
			&item.Session.ID, &item.Session.StallID, &started, &ended, &exit, &status,
			&aID, &aBefore, &aAfter, &aConf, &aResult, &aMeta, &aAt,
		); err != nil {
			return nil, err
		}
		if item.Session.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if item.Session.EndedAt, err = parseTimePtr(ended); err != nil {
			return nil, err
		}
		item.Session.ExitEvent = exit.String
		if v, ok := model.SessionStatusFromName(status); ok {
			item.Session.Status = v
		}
		if aID.Valid {
			a := model.Assessment{
				ID:             aID.String,
				SessionID:      item.Session.ID,
				BeforeScore:    aBefore.Float64,
				AfterScore:     aAfter.Float64,
				Confidence:     aConf.Float64,
				ChangeMetadata: aMeta.String,
			}
			if v, ok := model.ClassificationFromName(aResult.String); ok {
				a.Result = v
			}
			if a.AssessedAt, err = parseTime(aAt.String); err != nil {
				return nil, err
			}
			item.Assessment = &a
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) InsertSnapshot(ctx context.Context, sn model.Snapshot) error {
	return s.execContext(ctx, `
		INSERT INTO snapshots (id, session_id, kind, score, confidence, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sn.ID, sn.SessionID, sn.Kind, sn.Score, sn.Confidence, fmtTime(sn.TakenAt))
}

func (s *Store) InsertAssessment(ctx context.Context, a model.Assessment) error {
	return s.execContext(ctx, `
		INSERT INTO assessments (id, session_id, before_score, after_score, confidence, result, change_metadata, assessed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
		a.ID, a.SessionID, a.BeforeScore, a.AfterScore, a.Confidence,
		a.Result.String(), a.ChangeMetadata, fmtTime(a.AssessedAt))
}

func (s *Store) AppendEvent(ctx context.Context, ev model.EventLog) error {
	return s.execContext(ctx, `
		INSERT INTO event_logs (id, event_type, stall_id, session_id, payload, logged_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)`,
		ev.ID, ev.EventType, ev.StallID, ev.SessionID, ev.Payload, fmtTime(ev.LoggedAt))
}
