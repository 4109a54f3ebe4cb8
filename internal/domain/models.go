package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// Role is the caller's seat in a room.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Phase is the current step of a live session.
type Phase string

const (
	PhaseConnecting     Phase = "connecting"
	PhaseLobby          Phase = "lobby"
	PhaseQuestionActive Phase = "question"
	PhaseReviewing      Phase = "reviewing"
	PhaseGameOver       Phase = "game_over"
	PhaseTerminated     Phase = "terminated"
)

// Identity carries the caller's credential and profile. It is handed to the
// components that need it instead of being read from process-wide state.
type Identity struct {
	Credential  string
	DisplayName string
	AvatarRef   string
	Email       string
}

// Session is the result of a successful room negotiation.
type Session struct {
	RoomCode    string
	Role        Role
	QuizID      string // host only
	DisplayName string
}

// IsHost reports whether the session holds host authority.
func (s Session) IsHost() bool {
	return s.Role == RoleHost
}

// ParticipantStatus is the connection state the server reports for a participant.
type ParticipantStatus string

const (
	StatusOnline  ParticipantStatus = "online"
	StatusOffline ParticipantStatus = "offline"
)

// Participant is one roster entry as pushed by the server.
type Participant struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"name"`
	AvatarRef   string            `json:"avatarUrl,omitempty"`
	Status      ParticipantStatus `json:"status"`
	Score       int               `json:"score"`
	Answered    bool              `json:"answered"`
}

// Question is the broadcast payload for one round.
type Question struct {
	Ordinal          int                 `json:"current"`
	Total            int                 `json:"total"`
	Text             string              `json:"questionDescription"`
	ImageRef         string              `json:"imageName,omitempty"`
	Options          [OptionCount]string `json:"options"`
	TimeLimitSeconds int                 `json:"timeLimit"`
}

// UnmarshalJSON rejects payloads that do not carry exactly OptionCount
// options instead of truncating or zero-filling them.
func (q *Question) UnmarshalJSON(data []byte) error {
	type plain Question
	aux := struct {
		*plain
		Options []string `json:"options"`
	}{plain: (*plain)(q)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Options) != OptionCount {
		return fmt.Errorf("%w: question has %d options", ErrProtocolViolation, len(aux.Options))
	}
	copy(q.Options[:], aux.Options)
	return nil
}

// IsLast reports whether this is the final question of the quiz.
func (q Question) IsLast() bool {
	return q.Ordinal >= q.Total
}

// AnswerAttempt is the local, write-once answer for the current question.
type AnswerAttempt struct {
	OptionIndex int
	SubmittedAt time.Time
}

// Reveal is the server-declared correct option for the question that just closed.
type Reveal struct {
	CorrectIndex int `json:"correctIndex"`
}

// LeaderboardEntry is one ranked line of the final result.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"name"`
	AvatarRef     string `json:"avatarUrl,omitempty"`
	Rank          int    `json:"rank"`
	Score         int    `json:"score"`
}

// FinalResult ends the active loop of a session.
type FinalResult struct {
	WinnerID     string             `json:"winnerId"`
	WinnerName   string             `json:"winnerName"`
	WinnerAvatar string             `json:"winnerAvatar,omitempty"`
	WinnerScore  int                `json:"winnerScore"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
}

// EntryFor returns the leaderboard line of the given participant.
func (r FinalResult) EntryFor(participantID string) (LeaderboardEntry, bool) {
	for _, entry := range r.Leaderboard {
		if entry.ParticipantID == participantID {
			return entry, true
		}
	}
	return LeaderboardEntry{}, false
}

// QuizQuestion is stored quiz content, including the answer key. Only the
// coordination hub sees it; clients receive a Question.
type QuizQuestion struct {
	ID               string              `json:"id"`
	Prompt           string              `json:"prompt"`
	ImageRef         string              `json:"imageRef,omitempty"`
	Options          [OptionCount]string `json:"options"`
	CorrectIndex     int                 `json:"correctIndex"`
	TimeLimitSeconds int                 `json:"timeLimit"`
	Points           int                 `json:"points"` // defaults to 1 if zero
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Questions []QuizQuestion `json:"questions"`
}
