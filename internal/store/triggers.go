package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wctv/backend/internal/model"
)

func (s *Store) InsertTrigger(ctx context.Context, t model.CleaningTrigger) error {
	return s.execContext(ctx, `
		INSERT INTO cleaning_triggers
			(id, stall_id, session_id, severity, status, change_metadata, confidence, created_at, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)`,
		t.ID, t.StallID, t.SessionID, t.Severity.String(), t.Status.String(),
		t.ChangeMetadata, t.Confidence, fmtTime(t.CreatedAt), fmtTimePtr(t.AcknowledgedAt))
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*model.CleaningTrigger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stall_id, session_id, severity, status, change_metadata, confidence, created_at, acknowledged_at
		FROM cleaning_triggers WHERE id = ?`, id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*model.CleaningTrigger, error) {
	var t model.CleaningTrigger
	var severity, status, created string
	var meta, ackAt sql.NullString
	err := row.Scan(&t.ID, &t.StallID, &t.SessionID, &severity, &status,
		&meta, &t.Confidence, &created, &ackAt)
	if err != nil {
		return nil, err
	}
	if v, ok := model.SeverityFromName(severity); ok {
		t.Severity = v
	} else {
		return nil, fmt.Errorf("trigger %s: unknown severity %q", t.ID, severity)
	}
	if v, ok := model.TriggerStatusFromName(status); ok {
		t.Status = v
	} else {
		return nil, fmt.Errorf("trigger %s: unknown status %q", t.ID, status)
	}
	t.ChangeMetadata = meta.String
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.AcknowledgedAt, err = parseTimePtr(ackAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// TransitionTrigger atomically moves a trigger to status to, provided its
// current status is one of from. The guard and the write are a single
// UPDATE, so a racing actor cannot slip in between the check and the write:
// whoever commits first wins and the loser's attempt reports false.
//
// When to is acknowledged, ackAt is recorded as the acknowledgement time.
// Returns ErrNotFound if no trigger with the id exists at all.
func (s *Store) TransitionTrigger(ctx context.Context, id string, from []model.TriggerStatus, to model.TriggerStatus, ackAt *time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one expected pre-state")
	}

	placeholders := make([]string, len(from))
	args := []any{to.String(), fmtTimePtr(ackAt), id}
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, st.String())
	}

	query := fmt.Sprintf(`
		UPDATE cleaning_triggers
		SET status = ?, acknowledged_at = COALESCE(?, acknowledged_at)
		WHERE id = ? AND status IN (%s)`, strings.Join(placeholders, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Distinguish a lost race from a missing trigger.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM cleaning_triggers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// TriggerWithStall carries the stall name alongside a trigger for display.
type TriggerWithStall struct {
	model.CleaningTrigger
	StallName string `json:"stallName"`
}

// OpenTriggers returns all non-terminal triggers (active or acknowledged)
// with their stall names, unordered.
func (s *Store) OpenTriggers(ctx context.Context) ([]TriggerWithStall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.stall_id, t.session_id, t.severity, t.status, t.change_metadata,
		       t.confidence, t.created_at, t.acknowledged_at, st.name
		FROM cleaning_triggers t
		JOIN stalls st ON st.id = t.stall_id
		WHERE t.status IN ('active', 'acknowledged')`)
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

func (s *Store) InsertReceipt(ctx context.Context, r model.CleaningReceipt) error {
	return s.execContext(ctx, `
		INSERT INTO cleaning_receipts (id, trigger_id, completed_at, notes)
		VALUES (?, ?, ?, NULLIF(?, ''))`,
		r.ID, r.TriggerID, fmtTime(r.CompletedAt), r.Notes)
}

// ReceiptForTrigger returns the receipt of a completed trigger, or
// ErrNotFound if none was issued.
func (s *Store) ReceiptForTrigger(ctx context.Context, triggerID string) (*model.CleaningReceipt, error) {
	var r model.CleaningReceipt
	var completed string
	var notes sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_id, completed_at, notes
		FROM cleaning_receipts WHERE trigger_id = ?`, triggerID).
		Scan(&r.ID, &r.TriggerID, &completed, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseTime(completed); err != nil {
		return nil, err
	}
	r.Notes = notes.String
	return &r, nil
}

// ReceiptCount reports how many receipts reference a trigger. The unique
// index keeps this at most 1; the count form exists for invariant tests.
func (s *Store) ReceiptCount(ctx context.Context, triggerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cleaning_receipts WHERE trigger_id = ?`, triggerID).Scan(&n)
	return n, err
}
