package model

import (
	"encoding/json"
	"time"
)

// Classification is the coarse outcome of a visit assessment.
type Classification int

const (
	ResultOK Classification = iota
	ResultLightDeterioration
	ResultSevereDeterioration
	ResultNeedsReview
)

var classificationNames = map[Classification]string{
	ResultOK:                  "ok",
	ResultLightDeterioration:  "light_deterioration",
	ResultSevereDeterioration: "severe_deterioration",
	ResultNeedsReview:         "needs_review",
}

var classificationFromName = map[string]Classification{
	"ok":                   ResultOK,
	"light_deterioration":  ResultLightDeterioration,
	"severe_deterioration": ResultSevereDeterioration,
	"needs_review":         ResultNeedsReview,
}

func (c Classification) String() string {
	if s, ok := classificationNames[c]; ok {
		return s
	}
	return "unknown"
}

func ClassificationFromName(s string) (Classification, bool) {
	c, ok := classificationFromName[s]
	return c, ok
}

func (c Classification) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Classification) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := classificationFromName[s]; ok {
		*c = v
	}
	return nil
}

// StallState is the displayed condition of a stall, derived from its score
// and the most recent assessment.
type StallState int

const (
	StateOK StallState = iota
	StateLightDeterioration
	StateSevereDeterioration
	StateInvalid
)

var stallStateNames = map[StallState]string{
	StateOK:                  "ok",
	StateLightDeterioration:  "light_deterioration",
	StateSevereDeterioration: "severe_deterioration",
	StateInvalid:             "invalid",
}

var stallStateFromName = map[string]StallState{
	"ok":                   StateOK,
	"light_deterioration":  StateLightDeterioration,
	"severe_deterioration": StateSevereDeterioration,
	"invalid":              StateInvalid,
}

func (s StallState) String() string {
	if n, ok := stallStateNames[s]; ok {
		return n
	}
	return "unknown"
}

func StallStateFromName(s string) (StallState, bool) {
	v, ok := stallStateFromName[s]
	return v, ok
}

func (s StallState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *StallState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stallStateFromName[name]; ok {
		*s = v
	}
	return nil
}

// Severity grades a cleaning trigger.
type Severity int

const (
	SeverityLight Severity = iota
	SeveritySevere
)

var severityNames = map[Severity]string{
	SeverityLight:  "light",
	SeveritySevere: "severe",
}

var severityFromName = map[string]Severity{
	"light":  SeverityLight,
	"severe": SeveritySevere,
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "unknown"
}

func SeverityFromName(s string) (Severity, bool) {
	v, ok := severityFromName[s]
	return v, ok
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := severityFromName[name]; ok {
		*s = v
	}
	return nil
}

// TriggerStatus is the lifecycle state of a cleaning trigger.
// Terminal states are Completed and FalsePositive.
type TriggerStatus int

const (
	TriggerActive TriggerStatus = iota
	TriggerAcknowledged
	TriggerCompleted
	TriggerFalsePositive
)

var triggerStatusNames = map[TriggerStatus]string{
	TriggerActive:        "active",
	TriggerAcknowledged:  "acknowledged",
	TriggerCompleted:     "completed",
	TriggerFalsePositive: "false_positive",
}

var triggerStatusFromName = map[string]TriggerStatus{
	"active":         TriggerActive,
	"acknowledged":   TriggerAcknowledged,
	"completed":      TriggerCompleted,
	"false_positive": TriggerFalsePositive,
}

func (t TriggerStatus) String() string {
	if n, ok := triggerStatusNames[t]; ok {
		return n
	}
	return "unknown"
}

func TriggerStatusFromName(s string) (TriggerStatus, bool) {
	v, ok := triggerStatusFromName[s]
	return v, ok
}

func (t TriggerStatus) IsTerminal() bool {
	return t == TriggerCompleted || t == TriggerFalsePositive
}

func (t TriggerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TriggerStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := triggerStatusFromName[s]; ok {
		*t = v
	}
	return nil
}

// SessionStatus: a session is active from creation until the visit ends,
// then completed. There is no other state.
type SessionStatus int

const (
	SessionActive SessionStatus = iota
	SessionCompleted
)

var sessionStatusNames = map[SessionStatus]string{
	SessionActive:    "active",
	SessionCompleted: "completed",
}

var sessionStatusFromName = map[string]SessionStatus{
	"active":    SessionActive,
	"completed": SessionCompleted,
}

func (s SessionStatus) String() string {
	if n, ok := sessionStatusNames[s]; ok {
		return n
	}
	return "unknown"
}

func SessionStatusFromName(s string) (SessionStatus, bool) {
	v, ok := sessionStatusFromName[s]
	return v, ok
}

func (s SessionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := sessionStatusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Exit events for a completed session.
var ExitEvents = []string{"card_scan", "timeout", "door_sensor"}

// Snapshot kinds.
const (
	SnapshotBefore = "before"
	SnapshotAfter  = "after"
)

// Stall is a monitored physical unit. Immutable after creation.
type Stall struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	StallNumber int       `json:"stallNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StallStatus is the 1:1 live condition of a stall.
type StallStatus struct {
	StallID      string     `json:"stallId"`
	CurrentScore float64    `json:"currentScore"`
	State        StallState `json:"state"`
	LastUpdated  time.Time  `json:"lastUpdated"`
}

// Session is one occupancy interval. At most one session per stall may be
// active at any time.
type Session struct {
	ID        string        `json:"id"`
	StallID   string        `json:"stallId"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
	ExitEvent string        `json:"exitEvent,omitempty"`
	Status    SessionStatus `json:"status"`
}

// Snapshot is a before/after condition reading attached to a session.
type Snapshot struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Kind       string    `json:"kind"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	TakenAt    time.Time `json:"takenAt"`
}

// Assessment records the scored outcome of a completed session (1:1).
type Assessment struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"sessionId"`
	BeforeScore    float64        `json:"beforeScore"`
	AfterScore     float64        `json:"afterScore"`
	Confidence     float64        `json:"confidence"`
	Result         Classification `json:"result"`
	ChangeMetadata string         `json:"changeMetadata,omitempty"`
	AssessedAt     time.Time      `json:"assessedAt"`
}

// CleaningTrigger is a pending-or-resolved cleaning request raised from a
// degraded assessment. Exactly one per qualifying session.
type CleaningTrigger struct {
	ID             string        `json:"id"`
	StallID        string        `json:"stallId"`
	SessionID      string        `json:"sessionId"`
	Severity       Severity      `json:"severity"`
	Status         TriggerStatus `json:"status"`
	ChangeMetadata string        `json:"changeMetadata,omitempty"`
	Confidence     float64       `json:"confidence"`
	CreatedAt      time.Time     `json:"createdAt"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt,omitempty"`
}

// CleaningReceipt proves a trigger was completed (1:1 with its trigger).
type CleaningReceipt struct {
	ID          string    `json:"id"`
	TriggerID   string    `json:"triggerId"`
	CompletedAt time.Time `json:"completedAt"`
	Notes       string    `json:"notes,omitempty"`
}

// EventLog is an append-only record of engine activity.
type EventLog struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	StallID   string    `json:"stallId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	LoggedAt  time.Time `json:"loggedAt"`
}
