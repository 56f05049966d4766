package engine

import "errors"

var (
	ErrStorageUnavailable    = errors.New("history storage unavailable")
	ErrCompletionUnavailable = errors.New("completion service unavailable")
)

// Outcome is the closed set of results a turn can end in.
type Outcome int

const (
	// Replied means the completion succeeded and Reply holds the answer.
	Replied Outcome = iota
	// Rejected means the message exceeded the token budget. Nothing was sent or stored.
	Rejected
	// Unavailable means storage or the completion service failed. History is unchanged.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Replied:
		return "replied"
	case Rejected:
		return "rejected"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	Reply   string
	// Tokens is the estimated size of the inbound message.
	Tokens int
	// Cause explains an Unavailable outcome. It wraps ErrStorageUnavailable or
	// ErrCompletionUnavailable and is meant for logs, not for users.
	Cause error
	// PersistErr is set when a reply was produced but the updated history could
	// not be saved.
	PersistErr error
}
