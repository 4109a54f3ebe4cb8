package session

import (
	"time"

	"elsa-quiz-live/internal/domain"
)

// Msg is one input to the session reducer: a server event, a timer signal,
// a connection change or a local intent.
type Msg interface {
	isSessionMsg()
}

// Negotiated carries the session resolved by the room negotiator.
type Negotiated struct {
	Session domain.Session
}

// RosterUpdated is a lobby push with the full member list.
type RosterUpdated struct {
	Entries []domain.Participant
}

// QuestionReceived is a question broadcast.
type QuestionReceived struct {
	Question domain.Question
}

// ProgressUpdated is a push of who has answered and the scores so far.
type ProgressUpdated struct {
	Entries []domain.Participant
}

// AnswerAccepted is the server echo of this client's submission.
type AnswerAccepted struct {
	OptionIndex int
}

// RevealReceived closes the current question.
type RevealReceived struct {
	Reveal domain.Reveal
}

// GameOverReceived carries the final leaderboard.
type GameOverReceived struct {
	Final domain.FinalResult
}

// SessionEnded is a server-initiated end of the session.
type SessionEnded struct {
	Reason string
}

// ConnectionStatus is the channel health as seen by the session.
type ConnectionStatus string

const (
	ConnectionUp           ConnectionStatus = "up"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
	ConnectionLost         ConnectionStatus = "lost"
)

// ConnectionChanged reports a channel lifecycle change.
type ConnectionChanged struct {
	Status  ConnectionStatus
	Attempt int
	Err     error
}

// CountdownTicked is a once-per-second countdown update.
type CountdownTicked struct {
	Generation int
	Remaining  int
}

// CountdownExpired is the one-shot expiry of the question countdown.
type CountdownExpired struct {
	Generation int
}

// DwellElapsed fires when the host's review pause is over.
type DwellElapsed struct {
	Generation int
}

// StartGameRequested is the host asking to begin the game.
type StartGameRequested struct{}

// AnswerSubmitted is the local player picking an option.
type AnswerSubmitted struct {
	OptionIndex int
	At          time.Time
}

// ExitRequested is an explicit local exit.
type ExitRequested struct{}

// InvocationFailed reports an outbound command the service did not accept.
type InvocationFailed struct {
	Command    string
	Generation int
	Err        error
}

// RetryElapsed fires when a failed reveal or next request may be re-sent.
type RetryElapsed struct {
	Command    string
	Generation int
}

func (Negotiated) isSessionMsg()         {}
func (RosterUpdated) isSessionMsg()      {}
func (QuestionReceived) isSessionMsg()   {}
func (ProgressUpdated) isSessionMsg()    {}
func (AnswerAccepted) isSessionMsg()     {}
func (RevealReceived) isSessionMsg()     {}
func (GameOverReceived) isSessionMsg()   {}
func (SessionEnded) isSessionMsg()       {}
func (ConnectionChanged) isSessionMsg()  {}
func (CountdownTicked) isSessionMsg()    {}
func (CountdownExpired) isSessionMsg()   {}
func (DwellElapsed) isSessionMsg()       {}
func (StartGameRequested) isSessionMsg() {}
func (AnswerSubmitted) isSessionMsg()    {}
func (ExitRequested) isSessionMsg()      {}
func (InvocationFailed) isSessionMsg()   {}
func (RetryElapsed) isSessionMsg()       {}

// Effect is a side effect the Machine performs after a transition.
type Effect interface {
	isSessionEffect()
}

// Invoke sends a command to the service. It is fire and forget; failures
// come back as InvocationFailed.
type Invoke struct {
	Command string
	Args    any
	// Generation is echoed back on failure.
	Generation int
}

// ArmCountdown starts the question countdown.
type ArmCountdown struct {
	Seconds    int
	Generation int
}

// CancelCountdown tears the question countdown down.
type CancelCountdown struct{}

// ArmDwell starts the host review pause.
type ArmDwell struct {
	Generation int
}

// CancelDwell stops the review pause without firing it.
type CancelDwell struct{}

// ArmRetry schedules a RetryElapsed for command.
type ArmRetry struct {
	Command    string
	Generation int
}

// CancelRetry drops a scheduled retry.
type CancelRetry struct{}

// CloseChannel releases the connection.
type CloseChannel struct{}

func (Invoke) isSessionEffect()          {}
func (ArmCountdown) isSessionEffect()    {}
func (CancelCountdown) isSessionEffect() {}
func (ArmDwell) isSessionEffect()        {}
func (CancelDwell) isSessionEffect()     {}
func (ArmRetry) isSessionEffect()        {}
func (CancelRetry) isSessionEffect()     {}
func (CloseChannel) isSessionEffect()    {}
