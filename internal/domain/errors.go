package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the coordination service rejects the credential.
	ErrAuth = errors.New("credential rejected")
	// ErrNetwork is returned when the channel cannot be established or resumed.
	ErrNetwork = errors.New("network unavailable")
	// ErrNotConnected is returned by invocations attempted while the channel is down.
	ErrNotConnected = errors.New("channel not connected")
	// ErrSessionLost is returned once reconnect attempts are exhausted.
	ErrSessionLost = errors.New("session lost")
	// ErrRoomNotFound indicates a join with an unknown or stale room code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNoQuestions indicates a room was requested for a quiz without questions.
	ErrNoQuestions = errors.New("quiz has no questions")
	// ErrProtocolViolation marks an event that is invalid for the current phase.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrNotHost is returned when a host-only action is attempted by a player.
	ErrNotHost = errors.New("host authority required")
	// ErrNoParticipants is returned when starting a game with an empty room.
	ErrNoParticipants = errors.New("no participants in room")
	// ErrInvalidOption indicates an option index outside the question's options.
	ErrInvalidOption = errors.New("option index out of range")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrParticipantNotFound is returned when a member acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrWrongPhase is returned by the hub for commands sent at the wrong time.
	ErrWrongPhase = errors.New("command not allowed in current phase")
)

// NegotiationError wraps a room negotiation outcome that sends the user back
// to a safe prior screen. It is never retried.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s room: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// InvocationError is a command the service rejected while the channel was up.
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %s", e.Target, e.Message)
}
