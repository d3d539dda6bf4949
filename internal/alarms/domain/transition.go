package alarms

import "time"

// TransitionKind names an alarm lifecycle change.
type TransitionKind string

const (
	TransitionRaised     TransitionKind = "raised"
	TransitionUpdated    TransitionKind = "updated"
	TransitionRenotified TransitionKind = "renotified"
	TransitionCleared    TransitionKind = "cleared"
	TransitionAcked      TransitionKind = "acknowledged"
)

// Notifies reports whether the transition produces an outbound notification.
func (k TransitionKind) Notifies() bool {
	return k == TransitionRaised || k == TransitionRenotified
}

// Transition is emitted by evaluation and operator actions.
type Transition struct {
	Kind  TransitionKind `json:"type"`
	Alarm Alarm          `json:"alarm"`
	At    time.Time      `json:"at"`
}
