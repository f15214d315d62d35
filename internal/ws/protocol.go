package ws

import (
	"time"

	"github.com/wctv/backend/internal/model"
	"github.com/wctv/backend/internal/store"
)

type MessageType string

const (
	MsgSnapshot       MessageType = "snapshot"
	MsgSessionStarted MessageType = "session_started"
	MsgSessionEnded   MessageType = "session_ended"
	MsgStatusUpdate   MessageType = "status_update"
	MsgTriggerCreated MessageType = "trigger_created"
	MsgTriggerUpdated MessageType = "trigger_updated"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload carries the full stall list, sent on connect and on the
// periodic snapshot tick.
type SnapshotPayload struct {
	Stalls []store.StallOverview `json:"stalls"`
}

type SessionStartedPayload struct {
	StallID   string `json:"stallId"`
	SessionID string `json:"sessionId"`
}

type SessionEndedPayload struct {
	StallID   string               `json:"stallId"`
	SessionID string               `json:"sessionId"`
	Result    model.Classification `json:"result"`
}

type StatusUpdatePayload struct {
	StallID string           `json:"stallId"`
	State   model.StallState `json:"status"`
	Score   float64          `json:"score"`
}

type TriggerPayload struct {
	ID         string              `json:"id"`
	StallID    string              `json:"stallId"`
	StallName  string              `json:"stallName"`
	Severity   model.Severity      `json:"severity"`
	Status     model.TriggerStatus `json:"status"`
	Confidence float64             `json:"confidence"`
	CreatedAt  time.Time           `json:"createdAt"`
}

type TriggerCreatedPayload struct {
	Trigger TriggerPayload `json:"trigger"`
}

type TriggerUpdatedPayload struct {
	TriggerID string              `json:"triggerId"`
	Status    model.TriggerStatus `json:"status"`
}
