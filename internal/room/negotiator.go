// Package room negotiates entry into a live room, either by creating one from
// a quiz (host) or by joining an existing code (player).
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/protocol"

	"github.com/rs/zerolog"
)

// Invoker sends a command over the channel and decodes its acknowledgement.
type Invoker interface {
	Invoke(ctx context.Context, target string, args any, result any) error
}

// Entry describes how the caller wants to enter a room.
type Entry struct {
	Role     domain.Role
	QuizID   string // host path
	RoomCode string // player path
}

// Negotiator resolves an Entry into an authoritative Session.
type Negotiator struct {
	invoker  Invoker
	identity domain.Identity
	logger   zerolog.Logger
}

// New builds a Negotiator that speaks for identity.
func New(invoker Invoker, identity domain.Identity, logger zerolog.Logger) *Negotiator {
	return &Negotiator{invoker: invoker, identity: identity, logger: logger}
}

// Negotiate dispatches on the entry role.
func (n *Negotiator) Negotiate(ctx context.Context, entry Entry) (domain.Session, error) {
	switch entry.Role {
	case domain.RoleHost:
		return n.CreateRoom(ctx, entry.QuizID)
	case domain.RolePlayer:
		return n.JoinRoom(ctx, entry.RoomCode)
	default:
		return domain.Session{}, fmt.Errorf("negotiate: unknown role %q", entry.Role)
	}
}

// CreateRoom asks the service for a new room running quizID. A quiz without
// questions yields a NegotiationError wrapping domain.ErrNoQuestions.
func (n *Negotiator) CreateRoom(ctx context.Context, quizID string) (domain.Session, error) {
	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		return domain.Session{}, errors.New("create room: quiz id required")
	}

	var code string
	err := n.invoker.Invoke(ctx, protocol.CmdCreateRoom, protocol.CreateRoomArgs{
		QuizID:      quizID,
		DisplayName: n.identity.DisplayName,
		AvatarRef:   n.identity.AvatarRef,
	}, &code)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create room: %w", err)
	}

	switch code {
	case protocol.NoQuestions:
		n.logger.Info().Str("quiz", quizID).Msg("quiz has no questions")
		return domain.Session{}, &domain.NegotiationError{Op: "create", Err: domain.ErrNoQuestions}
	case "":
		return domain.Session{}, fmt.Errorf("create room: %w: empty room code", domain.ErrProtocolViolation)
	}

	n.logger.Info().Str("room", code).Str("quiz", quizID).Msg("room created")
	return domain.Session{
		RoomCode:    code,
		Role:        domain.RoleHost,
		QuizID:      quizID,
		DisplayName: n.identity.DisplayName,
	}, nil
}

// JoinRoom joins an existing room. A false or missing acknowledgement is the
// normal "room not found" outcome and no Session is returned.
func (n *Negotiator) JoinRoom(ctx context.Context, code string) (domain.Session, error) {
	code = NormalizeCode(code)
	if code == "" {
		return domain.Session{}, &domain.NegotiationError{Op: "join", Err: domain.ErrRoomNotFound}
	}

	var ack *bool
	err := n.invoker.Invoke(ctx, protocol.CmdJoinRoom, protocol.JoinRoomArgs{
		RoomCode:    code,
		DisplayName: n.identity.DisplayName,
		AvatarRef:   n.identity.AvatarRef,
	}, &ack)
	if err != nil {
		return domain.Session{}, fmt.Errorf("join room: %w", err)
	}
	if ack == nil || !*ack {
		n.logger.Info().Str("room", code).Msg("room not found")
		return domain.Session{}, &domain.NegotiationError{Op: "join", Err: domain.ErrRoomNotFound}
	}

	n.logger.Info().Str("room", code).Msg("room joined")
	return domain.Session{
		RoomCode:    code,
		Role:        domain.RolePlayer,
		DisplayName: n.identity.DisplayName,
	}, nil
}

// NormalizeCode trims and upper-cases a user-typed room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
