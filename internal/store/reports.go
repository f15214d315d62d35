package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/wctv/backend/internal/model"
)

// Reporting queries backing the KPI endpoints. These are read-only
// aggregates over the same tables the engine writes.

func (s *Store) CompletedSessionCountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE status = 'completed' AND started_at >= ?`, fmtTime(since)).Scan(&n)
	return n, err
}

// AssessmentResultCountsSince returns, per classification, the number of
// assessments recorded since the given time.
func (s *Store) AssessmentResultCountsSince(ctx context.Context, since time.Time) (map[model.Classification]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result, COUNT(*) FROM assessments
		WHERE assessed_at >= ?
		GROUP BY result`, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.Classification]int)
	for rows.Next() {
		var result string
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			return nil, err
		}
		if c, ok := model.ClassificationFromName(result); ok {
			counts[c] = n
		}
	}
	return counts, rows.Err()
}

// AvgTriggerResponseMinutesSince averages trigger-creation to receipt time
// over completed triggers created since the given time. The second return
// is false when there were no completed triggers in the window.
func (s *Store) AvgTriggerResponseMinutesSince(ctx context.Context, since time.Time) (float64, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.created_at, r.completed_at
		FROM cleaning_triggers t
		JOIN cleaning_receipts r ON r.trigger_id = t.id
		WHERE t.status = 'completed' AND t.created_at >= ?`, fmtTime(since))
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = rows.Close() }()

	var total float64
	var n int
	for rows.Next() {
		var createdStr, completedStr string
		if err := rows.Scan(&createdStr, &completedStr); err != nil {
			return 0, false, err
		}
		created, err := parseTime(createdStr)
		if err != nil {
			return 0, false, err
		}
		completed, err := parseTime(completedStr)
		if err != nil {
			return 0, false, err
		}
		total += completed.Sub(created).Minutes()
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return total / float64(n), true, nil
}

func (s *Store) OpenTriggerCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cleaning_triggers
		WHERE status IN ('active', 'acknowledged')`).Scan(&n)
	return n, err
}

// EventsSince returns event log rows logged since the given time, oldest
// first.
func (s *Store) EventsSince(ctx context.Context, since time.Time) ([]model.EventLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, stall_id, session_id, payload, logged_at
		FROM event_logs
		WHERE logged_at >= ?
		ORDER BY logged_at`, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.EventLog
	for rows.Next() {
		var ev model.EventLog
		var logged string
		var stallID, sessionID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.EventType, &stallID, &sessionID, &payload, &logged); err != nil {
			return nil, err
		}
		ev.StallID = stallID.String
		ev.SessionID = sessionID.String
		ev.Payload = payload.String
		if ev.LoggedAt, err = parseTime(logged); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AssessmentsBetween returns assessments in [from, to), oldest first.
func (s *Store) AssessmentsBetween(ctx context.Context, from, to time.Time) ([]model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, before_score, after_score, confidence, result, change_metadata, assessed_at
		FROM assessments
		WHERE assessed_at >= ? AND assessed_at < ?
		ORDER BY assessed_at`, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Assessment
	for rows.Next() {
		var a model.Assessment
		var result, assessed string
		var meta sql.NullString
		if err := rows.Scan(&a.ID, &a.SessionID, &a.BeforeScore, &a.AfterScore,
			&a.Confidence, &result, &meta, &assessed); err != nil {
			return nil, err
		}
		if c, ok := model.ClassificationFromName(result); ok {
			a.Result = c
		}
		a.ChangeMetadata = meta.String
		if a.AssessedAt, err = parseTime(assessed); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CompletedSessionsSince returns completed sessions started since the given
// time with assessments attached, oldest first. Used by the export report.
func (s *Store) CompletedSessionsSince(ctx context.Context, since time.Time) ([]SessionWithAssessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT se.id, se.stall_id, se.started_at, se.ended_at, se.exit_event, se.status,
		       a.id, a.before_score, a.after_score, a.confidence, a.result, a.change_metadata, a.assessed_at
		FROM sessions se
		LEFT JOIN assessments a ON a.session_id = se.id
		WHERE se.status = 'completed' AND se.started_at >= ?
		ORDER BY se.started_at`, fmtTime(since))
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

// TriggersSince returns all triggers created since the given time with
// stall names, oldest first. Used by the export report.
func (s *Store) TriggersSince(ctx context.Context, since time.Time) ([]TriggerWithStall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.stall_id, t.session_id, t.severity, t.status, t.change_metadata,
		       t.confidence, t.created_at, t.acknowledged_at, st.name
		FROM cleaning_triggers t
		JOIN stalls st ON st.id = t.stall_id
		WHERE t.created_at >= ?
		ORDER BY t.created_at`, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TriggerWithStall
	for rows.Next() {
		var t TriggerWithStall
		var severity, status, created string
		var meta, ackAt sql.NullString
		if err := rows.Scan(&t.ID, &t.StallID, &t.SessionID, &severity, &status,
			&meta, &t.Confidence, &created, &ackAt, &t.StallName); err != nil {
			return nil, err
		}
		if v, ok := model.SeverityFromName(severity); ok {
			t.Severity = v
		}
		if v, ok := model.TriggerStatusFromName(status); ok {
			t.Status = v
		}
		t.ChangeMetadata = meta.String
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if t.AcknowledgedAt, err = parseTimePtr(ackAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
