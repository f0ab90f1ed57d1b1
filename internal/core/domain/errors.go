package domain

import "errors"

// Precondition and validation failures. These are structured outcomes, not
// faults: nothing is mutated when one is returned, and callers map them to
// protocol replies.
var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrAgentEngaged       = errors.New("agent already has an active assignment")
	ErrClientEngaged      = errors.New("client already has an active assignment")
	ErrClientInactive     = errors.New("client is not active")
	ErrNoLocation         = errors.New("agent location not available")
	ErrNoCandidates       = errors.New("no available clients for assignment")
	ErrBadTransition      = errors.New("illegal status transition")
	ErrInvalidStatus      = errors.New("invalid status value")
	ErrPermission         = errors.New("permission denied")
	ErrInvalidMode        = errors.New("invalid ranking mode")
)
