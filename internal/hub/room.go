package hub

import (
	"sort"
	"sync"
	"time"

	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/protocol"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type roomPhase int

const (
	roomLobby roomPhase = iota
	roomQuestion
	roomReviewing
	roomOver
	roomClosed
)

type member struct {
	peer        *Peer
	participant domain.Participant
	lastScored  time.Time
}

// Room is one live game. All state is guarded by mu; broadcasts happen under
// the lock, which is safe because Peer.Send never blocks.
type Room struct {
	code  string
	quiz  domain.Quiz
	host  *Peer
	clock clockwork.Clock

	mu        sync.Mutex
	phase     roomPhase
	current   int
	startedAt time.Time
	members   []*member
	answers   map[string]answer
}

type answer struct {
	option  int
	elapsed time.Duration
}

func newRoom(code string, quiz domain.Quiz, host *Peer, clock clockwork.Clock) *Room {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Room{
		code:    code,
		quiz:    quiz,
		host:    host,
		clock:   clock,
		current: -1,
		answers: make(map[string]answer),
	}
}

// Code is the room's join code.
func (r *Room) Code() string { return r.code }

// Finished reports whether the game reached its final leaderboard.
func (r *Room) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase == roomOver
}

func (r *Room) join(p *Peer, name, avatar string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != roomLobby {
		return false
	}
	r.members = append(r.members, &member{
		peer: p,
		participant: domain.Participant{
			ID:          p.ID(),
			DisplayName: name,
			AvatarRef:   avatar,
			Status:      domain.StatusOnline,
		},
	})
	r.broadcastLocked(protocol.EvtUpdateLobby, r.rosterLocked())
	return true
}

func (r *Room) start(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p != r.host {
		return domain.ErrNotHost
	}
	if r.phase != roomLobby {
		return domain.ErrWrongPhase
	}
	if r.onlineLocked() == 0 {
		return domain.ErrNoParticipants
	}
	r.askLocked(0)
	return nil
}

func (r *Room) submit(p *Peer, option int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.memberOfLocked(p)
	if m == nil {
		return domain.ErrParticipantNotFound
	}
	if r.phase != roomQuestion {
		return domain.ErrWrongPhase
	}
	if option < 0 || option >= domain.OptionCount {
		return domain.ErrInvalidOption
	}
	if _, done := r.answers[m.participant.ID]; done {
		return nil
	}
	r.answers[m.participant.ID] = answer{option: option, elapsed: r.clock.Since(r.startedAt)}
	m.participant.Answered = true
	m.peer.Send(mustEvent(protocol.EvtAnswerAccepted, protocol.AnswerAcceptedArgs{OptionIndex: option}))
	r.broadcastLocked(protocol.EvtUpdateProgress, r.rosterLocked())
	return nil
}

// reveal scores the current question and shows the answer to everyone. A
// second reveal for the same question is ignored.
func (r *Room) reveal(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p != r.host {
		return domain.ErrNotHost
	}
	switch r.phase {
	case roomReviewing:
		return nil
	case roomQuestion:
	default:
		return domain.ErrWrongPhase
	}

	q := r.quiz.Questions[r.current]
	now := r.clock.Now()
	for _, m := range r.members {
		a, ok := r.answers[m.participant.ID]
		if ok && a.option == q.CorrectIndex {
			m.participant.Score += score(q, a.elapsed)
			m.lastScored = now
		}
	}
	r.phase = roomReviewing
	r.broadcastLocked(protocol.EvtShowAnswers, domain.Reveal{CorrectIndex: q.CorrectIndex})
	r.broadcastLocked(protocol.EvtUpdateProgress, r.rosterLocked())
	return nil
}

func (r *Room) next(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p != r.host {
		return domain.ErrNotHost
	}
	if r.phase != roomReviewing {
		return domain.ErrWrongPhase
	}
	if r.current+1 < len(r.quiz.Questions) {
		r.askLocked(r.current + 1)
		return nil
	}
	r.phase = roomOver
	r.broadcastLocked(protocol.EvtGameOver, r.finalLocked())
	log.Info().Str("room", r.code).Msg("game over")
	return nil
}

// leave handles a dropped connection. The host leaving ends the session for
// everyone and reports true.
func (r *Room) leave(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == roomClosed {
		return false
	}
	if p == r.host {
		r.phase = roomClosed
		r.broadcastLocked(protocol.EvtSessionEnded, protocol.SessionEndedArgs{Reason: "host left"})
		return true
	}
	if m := r.memberOfLocked(p); m != nil {
		m.participant.Status = domain.StatusOffline
		r.broadcastLocked(protocol.EvtUpdateLobby, r.rosterLocked())
	}
	return false
}

// rebind hands a seat to a reconnected peer that authenticated with the
// same credential, then replays the current phase to it. Whatever the old
// connection does afterwards no longer affects the seat.
func (r *Room) rebind(p *Peer, args protocol.RejoinArgs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == roomClosed {
		return domain.ErrRoomNotFound
	}

	var seat *member
	if args.Host {
		if !p.samePrincipal(r.host) {
			return domain.ErrNotHost
		}
		r.host = p
	} else {
		for _, m := range r.members {
			if p.samePrincipal(m.peer) && m.participant.DisplayName == args.DisplayName {
				seat = m
				break
			}
		}
		if seat == nil {
			return domain.ErrParticipantNotFound
		}
		seat.peer = p
		seat.participant.Status = domain.StatusOnline
	}
	r.broadcastLocked(protocol.EvtUpdateLobby, r.rosterLocked())

	switch r.phase {
	case roomQuestion:
		q := r.questionLocked(r.current)
		q.TimeLimitSeconds = secondsLeft(time.Duration(q.TimeLimitSeconds)*time.Second - r.clock.Since(r.startedAt))
		p.Send(mustEvent(protocol.EvtReceiveQuestion, q))
		p.Send(mustEvent(protocol.EvtUpdateProgress, r.rosterLocked()))
		if seat != nil {
			if a, ok := r.answers[seat.participant.ID]; ok {
				p.Send(mustEvent(protocol.EvtAnswerAccepted, protocol.AnswerAcceptedArgs{OptionIndex: a.option}))
			}
		}
	case roomReviewing:
		// A client still on the question moves on; one already reviewing
		// drops the reveal and keeps the scores.
		q := r.quiz.Questions[r.current]
		p.Send(mustEvent(protocol.EvtShowAnswers, domain.Reveal{CorrectIndex: q.CorrectIndex}))
		p.Send(mustEvent(protocol.EvtUpdateProgress, r.rosterLocked()))
	case roomOver:
		p.Send(mustEvent(protocol.EvtGameOver, r.finalLocked()))
	}
	return nil
}

func (r *Room) askLocked(index int) {
	r.current = index
	r.phase = roomQuestion
	r.startedAt = r.clock.Now()
	clear(r.answers)
	for _, m := range r.members {
		m.participant.Answered = false
	}
	r.broadcastLocked(protocol.EvtReceiveQuestion, r.questionLocked(index))
	r.broadcastLocked(protocol.EvtUpdateProgress, r.rosterLocked())
}

// questionLocked is the client view of question index, without the answer.
func (r *Room) questionLocked(index int) domain.Question {
	q := r.quiz.Questions[index]
	return domain.Question{
		Ordinal:          index + 1,
		Total:            len(r.quiz.Questions),
		Text:             q.Prompt,
		ImageRef:         q.ImageRef,
		Options:          q.Options,
		TimeLimitSeconds: q.TimeLimitSeconds,
	}
}

// memberOfLocked finds the seat currently bound to p.
func (r *Room) memberOfLocked(p *Peer) *member {
	for _, m := range r.members {
		if m.peer == p {
			return m
		}
	}
	return nil
}

func (r *Room) onlineLocked() int {
	n := 0
	for _, m := range r.members {
		if m.participant.Status == domain.StatusOnline {
			n++
		}
	}
	return n
}

func (r *Room) rosterLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.participant)
	}
	return out
}

// finalLocked ranks by score, then by who reached it first, then by name.
func (r *Room) finalLocked() domain.FinalResult {
	ranked := make([]*member, len(r.members))
	copy(ranked, r.members)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.participant.Score != b.participant.Score {
			return a.participant.Score > b.participant.Score
		}
		if !a.lastScored.Equal(b.lastScored) {
			return a.lastScored.Before(b.lastScored)
		}
		return a.participant.DisplayName < b.participant.DisplayName
	})

	result := domain.FinalResult{Leaderboard: make([]domain.LeaderboardEntry, 0, len(ranked))}
	for i, m := range ranked {
		result.Leaderboard = append(result.Leaderboard, domain.LeaderboardEntry{
			ParticipantID: m.participant.ID,
			DisplayName:   m.participant.DisplayName,
			AvatarRef:     m.participant.AvatarRef,
			Rank:          i + 1,
			Score:         m.participant.Score,
		})
	}
	if len(ranked) > 0 {
		winner := ranked[0].participant
		result.WinnerID = winner.ID
		result.WinnerName = winner.DisplayName
		result.WinnerAvatar = winner.AvatarRef
		result.WinnerScore = winner.Score
	}
	return result
}

func (r *Room) broadcastLocked(event string, args any) {
	f := mustEvent(event, args)
	r.host.Send(f)
	for _, m := range r.members {
		if m.participant.Status == domain.StatusOnline {
			m.peer.Send(f)
		}
	}
}

// score awards between half and all of 1000 points per question point,
// scaled by how much of the time limit was left.
func score(q domain.QuizQuestion, elapsed time.Duration) int {
	points := q.Points
	if points == 0 {
		points = 1
	}
	limit := time.Duration(q.TimeLimitSeconds) * time.Second
	if limit <= 0 {
		return points * 1000
	}
	remaining := max(0, limit-elapsed)
	return points * (500 + int(500*remaining/limit))
}

// secondsLeft rounds d up to whole seconds, never below zero.
func secondsLeft(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func mustEvent(event string, args any) protocol.Frame {
	f, err := protocol.Event(event, args)
	if err != nil {
		// Event payloads are hub-owned types; encoding cannot fail.
		panic(err)
	}
	return f
}
