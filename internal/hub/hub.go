// Package hub is a reference coordination service for live rooms. It owns
// the quiz content and the answer key; clients only ever see questions,
// reveals and leaderboards.
package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/protocol"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 8
)

// ErrCodeSpaceExhausted is returned when no free room code could be reserved.
var ErrCodeSpaceExhausted = errors.New("could not reserve a room code")

// RoomStore abstracts where live rooms are kept (in-memory, Redis, etc).
type RoomStore interface {
	// Reserve claims code; false means it is already taken.
	Reserve(ctx context.Context, code string) (bool, error)
	Put(room *Room)
	Get(code string) (*Room, bool)
	Release(ctx context.Context, code string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Hub runs every room of one process.
type Hub struct {
	rooms   RoomStore
	quizzes QuizRepository
	clock   clockwork.Clock

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option customises a Hub.
type Option func(*Hub)

// WithClock sets the clock used for answer timing.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

// WithSeed makes room codes deterministic.
func WithSeed(seed int64) Option {
	return func(h *Hub) { h.rnd = rand.New(rand.NewSource(seed)) }
}

func New(rooms RoomStore, quizzes QuizRepository, opts ...Option) *Hub {
	h := &Hub{
		rooms:   rooms,
		quizzes: quizzes,
		clock:   clockwork.NewRealClock(),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRoom is exported for infrastructure layers that need to seed rooms.
func NewRoom(code string, quiz domain.Quiz, host *Peer, clock clockwork.Clock) *Room {
	return newRoom(code, quiz, host, clock)
}

// Room returns a live room by code.
func (h *Hub) Room(code string) (*Room, bool) {
	return h.rooms.Get(strings.ToUpper(code))
}

// CreateRoom opens a room for quizID with p as host. A quiz without questions
// yields protocol.NoQuestions instead of a code.
func (h *Hub) CreateRoom(ctx context.Context, p *Peer, args protocol.CreateRoomArgs) (string, error) {
	quiz, err := h.quizzes.GetQuiz(ctx, args.QuizID)
	if err != nil {
		return "", err
	}
	if len(quiz.Questions) == 0 {
		return protocol.NoQuestions, nil
	}

	code, err := h.reserveCode(ctx)
	if err != nil {
		return "", err
	}
	h.rooms.Put(newRoom(code, quiz, p, h.clock))
	p.setRoom(code)
	log.Info().Str("room", code).Str("quiz", quiz.ID).Str("host", args.DisplayName).Msg("room created")
	return code, nil
}

// JoinRoom adds p to an existing room. Unknown codes and games already in
// progress report false.
func (h *Hub) JoinRoom(_ context.Context, p *Peer, args protocol.JoinRoomArgs) bool {
	room, ok := h.Room(args.RoomCode)
	if !ok || !room.join(p, args.DisplayName, args.AvatarRef) {
		return false
	}
	p.setRoom(room.Code())
	log.Info().Str("room", room.Code()).Str("player", args.DisplayName).Msg("player joined")
	return true
}

func (h *Hub) StartGame(_ context.Context, p *Peer, args protocol.RoomArgs) error {
	return h.withRoom(args.RoomCode, func(r *Room) error { return r.start(p) })
}

func (h *Hub) SubmitAnswer(_ context.Context, p *Peer, args protocol.SubmitAnswerArgs) error {
	return h.withRoom(args.RoomCode, func(r *Room) error { return r.submit(p, args.OptionIndex) })
}

func (h *Hub) TriggerShowAnswers(_ context.Context, p *Peer, args protocol.RoomArgs) error {
	return h.withRoom(args.RoomCode, func(r *Room) error { return r.reveal(p) })
}

func (h *Hub) RequestNextQuestion(_ context.Context, p *Peer, args protocol.RoomArgs) error {
	return h.withRoom(args.RoomCode, func(r *Room) error { return r.next(p) })
}

// Rejoin gives p the seat its credential already holds in a room. The
// current phase is replayed to p so a client that missed events while
// offline catches up.
func (h *Hub) Rejoin(_ context.Context, p *Peer, args protocol.RejoinArgs) error {
	room, ok := h.Room(args.RoomCode)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := room.rebind(p, args); err != nil {
		return err
	}
	p.setRoom(room.Code())
	log.Info().Str("room", room.Code()).Str("peer", p.ID()).Bool("host", args.Host).Msg("peer rejoined")
	return nil
}

// Leave detaches p from its room. A departing host ends the room for
// everyone.
func (h *Hub) Leave(ctx context.Context, p *Peer) {
	code := p.room()
	if code == "" {
		return
	}
	room, ok := h.rooms.Get(code)
	if !ok {
		return
	}
	if room.leave(p) {
		h.rooms.Release(ctx, code)
		log.Info().Str("room", code).Msg("host left, room closed")
	}
}

// Handle decodes one invocation frame, runs it for p and returns the
// completion to send back.
func (h *Hub) Handle(ctx context.Context, p *Peer, f protocol.Frame) protocol.Frame {
	result, err := h.dispatch(ctx, p, f)
	if err != nil {
		log.Debug().Err(err).Str("peer", p.ID()).Str("target", f.Target).Msg("invocation rejected")
	}
	return protocol.Completion(f.ID, result, err)
}

func (h *Hub) dispatch(ctx context.Context, p *Peer, f protocol.Frame) (any, error) {
	switch f.Target {
	case protocol.CmdCreateRoom:
		var args protocol.CreateRoomArgs
		if err := protocol.DecodeArgs(f, &args); err != nil {
			return nil, err
		}
		return h.CreateRoom(ctx, p, args)
	case protocol.CmdJoinRoom:
		var args protocol.JoinRoomArgs
		if err := protocol.DecodeArgs(f, &args); err != nil {
			return nil, err
		}
		return h.JoinRoom(ctx, p, args), nil
	case protocol.CmdStartGame:
		return nil, decodeRoom(f, func(args protocol.RoomArgs) error { return h.StartGame(ctx, p, args) })
	case protocol.CmdSubmitAnswer:
		var args protocol.SubmitAnswerArgs
		if err := protocol.DecodeArgs(f, &args); err != nil {
			return nil, err
		}
		return nil, h.SubmitAnswer(ctx, p, args)
	case protocol.CmdTriggerShow:
		return nil, decodeRoom(f, func(args protocol.RoomArgs) error { return h.TriggerShowAnswers(ctx, p, args) })
	case protocol.CmdRequestNext:
		return nil, decodeRoom(f, func(args protocol.RoomArgs) error { return h.RequestNextQuestion(ctx, p, args) })
	case protocol.CmdRejoin:
		var args protocol.RejoinArgs
		if err := protocol.DecodeArgs(f, &args); err != nil {
			return nil, err
		}
		return nil, h.Rejoin(ctx, p, args)
	default:
		return nil, fmt.Errorf("unsupported command %q", f.Target)
	}
}

func decodeRoom(f protocol.Frame, fn func(protocol.RoomArgs) error) error {
	var args protocol.RoomArgs
	if err := protocol.DecodeArgs(f, &args); err != nil {
		return err
	}
	return fn(args)
}

func (h *Hub) withRoom(code string, fn func(*Room) error) error {
	room, ok := h.Room(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return fn(room)
}

func (h *Hub) reserveCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := h.newCode()
		ok, err := h.rooms.Reserve(ctx, code)
		if err != nil {
			return "", fmt.Errorf("reserve room code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (h *Hub) newCode() string {
	h.rndMu.Lock()
	defer h.rndMu.Unlock()
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[h.rnd.Intn(len(codeAlphabet))]
	}
	return string(b)
}
