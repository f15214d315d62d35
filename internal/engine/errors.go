package engine

import (
	"errors"
	"fmt"

	"github.com/wctv/backend/internal/model"
)

// ErrTriggerNotFound reports an operator command against an unknown trigger.
var ErrTriggerNotFound = errors.New("trigger not found")

// InvalidStateError reports an operator transition whose precondition no
// longer held at attempt time. Status is the state actually observed, so a
// caller can tell "already handled" from "never existed".
type InvalidStateError struct {
	TriggerID string
	Status    model.TriggerStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("trigger %s is %s", e.TriggerID, e.Status)
}
