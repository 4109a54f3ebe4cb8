// Package protocol defines the JSON frames exchanged between a session client
// and the coordination service over a single websocket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates the three frame shapes.
type FrameType string

const (
	FrameInvocation FrameType = "invocation"
	FrameCompletion FrameType = "completion"
	FrameEvent      FrameType = "event"
)

// Frame is the single envelope used in both directions.
type Frame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id,omitempty"`
	Target string          `json:"target,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Commands invoked by clients.
const (
	CmdCreateRoom   = "CreateRoom"
	CmdJoinRoom     = "JoinRoom"
	CmdStartGame    = "StartGame"
	CmdSubmitAnswer = "SubmitAnswer"
	CmdTriggerShow  = "TriggerShowAnswers"
	CmdRequestNext  = "RequestNextQuestion"
	// CmdRejoin rebinds a reconnected client to the room it was already in.
	CmdRejoin = "Rejoin"
)

// Events pushed by the service.
const (
	EvtUpdateLobby     = "UpdateLobby"
	EvtReceiveQuestion = "ReceiveQuestion"
	EvtUpdateProgress  = "UpdateProgress"
	EvtAnswerAccepted  = "AnswerAccepted"
	EvtShowAnswers     = "ShowAnswers"
	EvtGameOver        = "GameOver"
	EvtSessionEnded    = "SessionEnded"
)

// NoQuestions is the CreateRoom result for a quiz without questions.
const NoQuestions = "NO_QUESTIONS"

type CreateRoomArgs struct {
	QuizID      string `json:"quizId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarUrl,omitempty"`
}

type JoinRoomArgs struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarUrl,omitempty"`
}

type RoomArgs struct {
	RoomCode string `json:"roomCode"`
}

// RejoinArgs names the seat a reconnected client held. The service matches
// it against the credential the new connection authenticated with.
type RejoinArgs struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName,omitempty"`
	Host        bool   `json:"host,omitempty"`
}

type SubmitAnswerArgs struct {
	RoomCode    string `json:"roomCode"`
	OptionIndex int    `json:"optionIndex"`
}

type AnswerAcceptedArgs struct {
	OptionIndex int `json:"optionIndex"`
}

type SessionEndedArgs struct {
	Reason string `json:"reason,omitempty"`
}

// Invocation builds an invocation frame.
func Invocation(id, target string, args any) (Frame, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s args: %w", target, err)
	}
	return Frame{Type: FrameInvocation, ID: id, Target: target, Args: raw}, nil
}

// Event builds an event frame.
func Event(target string, args any) (Frame, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s event: %w", target, err)
	}
	return Frame{Type: FrameEvent, Target: target, Args: raw}, nil
}

// Completion builds the reply to an invocation. A non-nil err is sent as the
// error string and result is ignored.
func Completion(id string, result any, err error) Frame {
	if err != nil {
		return Frame{Type: FrameCompletion, ID: id, Error: err.Error()}
	}
	raw, mErr := marshalArgs(result)
	if mErr != nil {
		return Frame{Type: FrameCompletion, ID: id, Error: mErr.Error()}
	}
	return Frame{Type: FrameCompletion, ID: id, Result: raw}
}

// DecodeArgs unmarshals frame args into dst. Empty args leave dst untouched.
func DecodeArgs(f Frame, dst any) error {
	if len(f.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Args, dst); err != nil {
		return fmt.Errorf("decode %s args: %w", f.Target, err)
	}
	return nil
}

func marshalArgs(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
