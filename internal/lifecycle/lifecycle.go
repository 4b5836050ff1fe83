// Package lifecycle tracks each fiscal document from generation to its
// terminal authority outcome. Transitions form a closed state machine; once a
// record reaches a terminal state nothing can move it again.
package lifecycle

import (
	"fmt"
	"time"
)

// State is the position of a document in the emission pipeline.
type State string

// Document states. GENERATED and SIGNED are local; SUBMITTED is the only
// state awaiting external confirmation; AUTHORIZED and REJECTED are terminal.
// RETURNED is terminal for this access key but correctable: the invoice must
// be regenerated under a new sequential number.
const (
	StateGenerated  State = "GENERATED"
	StateSigned     State = "SIGNED"
	StateSubmitted  State = "SUBMITTED"
	StateAuthorized State = "AUTHORIZED"
	StateRejected   State = "REJECTED"
	StateReturned   State = "RETURNED"
)

var transitions = map[State][]State{
	StateGenerated: {StateSigned},
	StateSigned:    {StateSubmitted},
	StateSubmitted: {StateAuthorized, StateRejected, StateReturned},
}

// Terminal reports whether no further transitions exist from the state.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the move is allowed by the state machine.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Record is the persistent trace of one access key's journey.
type Record struct {
	AccessKey          string `json:"access_key"`
	State              State  `json:"state"`
	SubmissionAttempts int    `json:"submission_attempts"`

	// LastAuthorityMessage keeps the most recent authority answer verbatim;
	// it drives corrective action when a document is rejected or returned.
	LastAuthorityMessage string `json:"last_authority_message,omitempty"`

	AuthorizationNumber    string     `json:"authorization_number,omitempty"`
	AuthorizationTimestamp *time.Time `json:"authorization_timestamp,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransitionError reports an attempted move the state machine forbids.
type TransitionError struct {
	AccessKey string
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for %s", e.From, e.To, e.AccessKey)
}

// NewTransitionError creates a new transition error
func NewTransitionError(accessKey string, from, to State) *TransitionError {
	return &TransitionError{AccessKey: accessKey, From: from, To: to}
}
