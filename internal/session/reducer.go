// Package session drives one live room from the client's side: it folds
// server events, countdown ticks and local intents into a single ordered
// stream of phase transitions.
package session

import (
	"errors"
	"fmt"

	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/protocol"
	"elsa-quiz-live/internal/roster"
)

// State is an immutable snapshot of a session. Pointer fields are never
// mutated after they are set; a transition swaps them for new values.
type State struct {
	Session    domain.Session
	Phase      domain.Phase
	Question   *domain.Question
	Attempt    *domain.AnswerAttempt
	Accepted   bool
	Reveal     *domain.Reveal
	Final      *domain.FinalResult
	Remaining  int
	Projection roster.Projection
	// Regressions holds score drops seen in the latest push, if any.
	Regressions []roster.Regression
	Connection  ConnectionStatus
	EndReason   string
	LastError   error

	// Generation increments on every question so stale timer signals
	// can be told apart from current ones.
	Generation int

	startRequested  bool
	revealTriggered bool
	nextRequested   bool
	// retries counts retry timers armed for the current phase.
	retries int
}

// maxCommandRetries bounds how often a failed reveal or next request is
// re-sent within one question.
const maxCommandRetries = 5

// Initial is the state before room negotiation completes.
func Initial() State {
	return State{Phase: domain.PhaseConnecting, Connection: ConnectionUp}
}

// Terminal reports whether the session has ended for good.
func (s State) Terminal() bool {
	return s.Phase == domain.PhaseTerminated
}

// Correct reports whether the local answer matched the server reveal. It is
// false until a reveal has been received.
func (s State) Correct() bool {
	return s.Reveal != nil && s.Attempt != nil && s.Attempt.OptionIndex == s.Reveal.CorrectIndex
}

// Reduce applies msg to s. It never mutates s. Messages that make no sense
// in the current phase return domain.ErrProtocolViolation and leave s as is;
// local intents that are not allowed return the matching guard error.
func Reduce(s State, msg Msg) (State, []Effect, error) {
	switch m := msg.(type) {
	case Negotiated:
		if s.Phase != domain.PhaseConnecting {
			return s, nil, violation(s, "negotiated")
		}
		s.Session = m.Session
		s.Phase = domain.PhaseLobby
		return s, nil, nil

	case RosterUpdated:
		if s.Terminal() {
			return s, nil, violation(s, "roster update")
		}
		s.Projection, s.Regressions = s.Projection.ApplyRoster(m.Entries)
		return s, nil, nil

	case ProgressUpdated:
		if s.Terminal() {
			return s, nil, violation(s, "progress update")
		}
		s.Projection, s.Regressions = s.Projection.ApplyProgress(m.Entries)
		return s, nil, nil

	case QuestionReceived:
		return enterQuestion(s, m.Question)

	case AnswerAccepted:
		if s.Phase != domain.PhaseQuestionActive || s.Attempt == nil {
			return s, nil, violation(s, "answer accepted")
		}
		s.Accepted = true
		return s, nil, nil

	case RevealReceived:
		if s.Phase != domain.PhaseQuestionActive {
			return s, nil, violation(s, "reveal")
		}
		if m.Reveal.CorrectIndex < 0 || m.Reveal.CorrectIndex >= domain.OptionCount {
			return s, nil, fmt.Errorf("%w: reveal index %d", domain.ErrProtocolViolation, m.Reveal.CorrectIndex)
		}
		reveal := m.Reveal
		s.Reveal = &reveal
		s.Phase = domain.PhaseReviewing
		effects := []Effect{CancelCountdown{}}
		if s.retries > 0 {
			s.retries = 0
			effects = append(effects, CancelRetry{})
		}
		if s.Session.IsHost() {
			effects = append(effects, ArmDwell{Generation: s.Generation})
		}
		return s, effects, nil

	case GameOverReceived:
		if s.Phase != domain.PhaseQuestionActive && s.Phase != domain.PhaseReviewing {
			return s, nil, violation(s, "game over")
		}
		final := m.Final
		s.Final = &final
		s.Phase = domain.PhaseGameOver
		s.retries = 0
		return s, []Effect{CancelCountdown{}, CancelDwell{}, CancelRetry{}}, nil

	case SessionEnded:
		if s.Terminal() {
			return s, nil, violation(s, "session ended")
		}
		return terminate(s, m.Reason, nil)

	case ConnectionChanged:
		if s.Terminal() {
			return s, nil, nil
		}
		s.Connection = m.Status
		switch {
		case m.Status == ConnectionLost:
			return terminate(s, "connection lost", m.Err)
		case m.Status == ConnectionUp && m.Attempt > 0 && s.Phase != domain.PhaseConnecting:
			// A fresh link is a new peer to the service until it rebinds.
			return s, []Effect{Invoke{
				Command: protocol.CmdRejoin,
				Args: protocol.RejoinArgs{
					RoomCode:    s.Session.RoomCode,
					DisplayName: s.Session.DisplayName,
					Host:        s.Session.IsHost(),
				},
			}}, nil
		}
		return s, nil, nil

	case CountdownTicked:
		if s.Phase != domain.PhaseQuestionActive || m.Generation != s.Generation {
			return s, nil, nil
		}
		s.Remaining = max(0, m.Remaining)
		return s, nil, nil

	case CountdownExpired:
		if s.Phase != domain.PhaseQuestionActive || m.Generation != s.Generation {
			return s, nil, nil
		}
		s.Remaining = 0
		return triggerReveal(s)

	case DwellElapsed:
		if s.Phase != domain.PhaseReviewing || m.Generation != s.Generation {
			return s, nil, nil
		}
		return requestNext(s)

	case RetryElapsed:
		if m.Generation != s.Generation {
			return s, nil, nil
		}
		switch {
		case m.Command == protocol.CmdTriggerShow && s.Phase == domain.PhaseQuestionActive:
			return triggerReveal(s)
		case m.Command == protocol.CmdRequestNext && s.Phase == domain.PhaseReviewing:
			return requestNext(s)
		}
		return s, nil, nil

	case StartGameRequested:
		if !s.Session.IsHost() {
			return s, nil, domain.ErrNotHost
		}
		if s.Phase != domain.PhaseLobby {
			return s, nil, fmt.Errorf("start game in %s: %w", s.Phase, domain.ErrWrongPhase)
		}
		if s.Projection.Size() == 0 {
			return s, nil, domain.ErrNoParticipants
		}
		if s.startRequested {
			return s, nil, nil
		}
		s.startRequested = true
		return s, []Effect{Invoke{
			Command: protocol.CmdStartGame,
			Args:    protocol.RoomArgs{RoomCode: s.Session.RoomCode},
		}}, nil

	case AnswerSubmitted:
		if s.Session.IsHost() {
			return s, nil, domain.ErrNotHost
		}
		if s.Phase != domain.PhaseQuestionActive {
			return s, nil, fmt.Errorf("submit answer in %s: %w", s.Phase, domain.ErrWrongPhase)
		}
		if m.OptionIndex < 0 || m.OptionIndex >= domain.OptionCount {
			return s, nil, domain.ErrInvalidOption
		}
		if s.Attempt != nil {
			return s, nil, nil
		}
		s.Attempt = &domain.AnswerAttempt{OptionIndex: m.OptionIndex, SubmittedAt: m.At}
		return s, []Effect{Invoke{
			Command: protocol.CmdSubmitAnswer,
			Args:    protocol.SubmitAnswerArgs{RoomCode: s.Session.RoomCode, OptionIndex: m.OptionIndex},
		}}, nil

	case ExitRequested:
		if s.Terminal() {
			return s, nil, nil
		}
		return terminate(s, "exit", nil)

	case InvocationFailed:
		if s.Terminal() {
			return s, nil, nil
		}
		s.LastError = m.Err
		switch m.Command {
		case protocol.CmdStartGame:
			s.startRequested = false
		case protocol.CmdRejoin:
			// Transport failures are retried by the next reconnect; a
			// refusal means the seat is gone.
			var refused *domain.InvocationError
			if errors.As(m.Err, &refused) {
				return terminate(s, "rejoin failed", m.Err)
			}
		case protocol.CmdTriggerShow:
			if s.Phase == domain.PhaseQuestionActive && m.Generation == s.Generation && s.revealTriggered {
				s.revealTriggered = false
				return scheduleRetry(s, m.Command)
			}
		case protocol.CmdRequestNext:
			if s.Phase == domain.PhaseReviewing && m.Generation == s.Generation && s.nextRequested {
				s.nextRequested = false
				return scheduleRetry(s, m.Command)
			}
		}
		return s, nil, nil
	}
	return s, nil, fmt.Errorf("%w: unknown message %T", domain.ErrProtocolViolation, msg)
}

// triggerReveal asks the service to close the question once per question.
// Only the host drives the reveal.
func triggerReveal(s State) (State, []Effect, error) {
	if !s.Session.IsHost() || s.revealTriggered {
		return s, nil, nil
	}
	s.revealTriggered = true
	return s, []Effect{Invoke{
		Command:    protocol.CmdTriggerShow,
		Args:       protocol.RoomArgs{RoomCode: s.Session.RoomCode},
		Generation: s.Generation,
	}}, nil
}

func requestNext(s State) (State, []Effect, error) {
	if !s.Session.IsHost() || s.nextRequested {
		return s, nil, nil
	}
	s.nextRequested = true
	return s, []Effect{Invoke{
		Command:    protocol.CmdRequestNext,
		Args:       protocol.RoomArgs{RoomCode: s.Session.RoomCode},
		Generation: s.Generation,
	}}, nil
}

func scheduleRetry(s State, command string) (State, []Effect, error) {
	if s.retries >= maxCommandRetries {
		return s, nil, nil
	}
	s.retries++
	return s, []Effect{ArmRetry{Command: command, Generation: s.Generation}}, nil
}

func enterQuestion(s State, q domain.Question) (State, []Effect, error) {
	switch s.Phase {
	case domain.PhaseLobby, domain.PhaseQuestionActive, domain.PhaseReviewing:
	default:
		return s, nil, violation(s, "question")
	}
	if err := validateQuestion(q); err != nil {
		return s, nil, err
	}

	var effects []Effect
	if s.Phase == domain.PhaseReviewing {
		effects = append(effects, CancelDwell{})
	}
	if s.retries > 0 {
		effects = append(effects, CancelRetry{})
	}
	// The service repeats the open question after a rejoin; the local
	// answer to it still stands.
	resync := s.Phase == domain.PhaseQuestionActive && s.Question != nil && s.Question.Ordinal == q.Ordinal
	s.Phase = domain.PhaseQuestionActive
	s.Question = &q
	if !resync {
		s.Attempt = nil
		s.Accepted = false
	}
	s.Reveal = nil
	s.Remaining = q.TimeLimitSeconds
	s.revealTriggered = false
	s.nextRequested = false
	s.retries = 0
	s.Generation++
	effects = append(effects, ArmCountdown{Seconds: q.TimeLimitSeconds, Generation: s.Generation})
	return s, effects, nil
}

func validateQuestion(q domain.Question) error {
	switch {
	case q.Ordinal < 1, q.Total < q.Ordinal:
		return fmt.Errorf("%w: question %d of %d", domain.ErrProtocolViolation, q.Ordinal, q.Total)
	case q.TimeLimitSeconds < 0:
		return fmt.Errorf("%w: negative time limit %d", domain.ErrProtocolViolation, q.TimeLimitSeconds)
	}
	for i, option := range q.Options {
		if option == "" {
			return fmt.Errorf("%w: option %d is empty", domain.ErrProtocolViolation, i)
		}
	}
	return nil
}

func terminate(s State, reason string, cause error) (State, []Effect, error) {
	s.Phase = domain.PhaseTerminated
	s.EndReason = reason
	if cause != nil {
		s.LastError = cause
	}
	s.Remaining = 0
	s.retries = 0
	return s, []Effect{CancelCountdown{}, CancelDwell{}, CancelRetry{}, CloseChannel{}}, nil
}

func violation(s State, event string) error {
	return fmt.Errorf("%w: %s in phase %s", domain.ErrProtocolViolation, event, s.Phase)
}
