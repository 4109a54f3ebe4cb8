package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"elsa-quiz-live/internal/channel"
	"elsa-quiz-live/internal/countdown"
	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/protocol"
	"elsa-quiz-live/internal/room"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultReviewDwell is how long the host keeps a revealed answer on screen
// before asking for the next question.
const DefaultReviewDwell = 5 * time.Second

// commandRetryDelay spaces re-sends of a failed reveal or next request.
const commandRetryDelay = time.Second

// Channel is the connection a Machine owns for its whole lifetime.
type Channel interface {
	On(event string, h channel.Handler)
	OnLifecycle(fn func(channel.Lifecycle))
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, target string, args any, result any) error
	Close() error
}

// Negotiator resolves a room entry into a session.
type Negotiator interface {
	Negotiate(ctx context.Context, entry room.Entry) (domain.Session, error)
}

// Option customises a Machine.
type Option func(*Machine)

// WithClock sets the clock used by the countdown and the review dwell.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Machine) { m.clock = clock }
}

// WithLogger sets the machine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithReviewDwell overrides DefaultReviewDwell.
func WithReviewDwell(d time.Duration) Option {
	return func(m *Machine) { m.dwell = d }
}

// WithInvokeTimeout bounds each outbound command.
func WithInvokeTimeout(d time.Duration) Option {
	return func(m *Machine) { m.invokeTimeout = d }
}

type envelope struct {
	msg   Msg
	reply chan error
}

// Machine owns one session: its channel, its countdown and its review
// dwell. Every message is applied on a single goroutine; channel handlers
// and timers only post into the inbox.
type Machine struct {
	ch            Channel
	clock         clockwork.Clock
	logger        zerolog.Logger
	dwell         time.Duration
	invokeTimeout time.Duration
	countdown     *countdown.Countdown

	inbox     chan envelope
	closing   chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	invokeCtx    context.Context
	cancelInvoke context.CancelFunc
	invokes      sync.WaitGroup

	mu          sync.Mutex
	state       State
	subscribers map[chan State]struct{}
	dwellTimer  timerSlot
	retryTimer  timerSlot
}

// timerSlot holds at most one pending one-shot timer. It is guarded by
// Machine.mu.
type timerSlot struct {
	timer clockwork.Timer
}

// NewMachine wires handlers for every server event onto ch. Nothing is
// dialed until Open.
func NewMachine(ch Channel, opts ...Option) *Machine {
	m := &Machine{
		ch:            ch,
		clock:         clockwork.NewRealClock(),
		logger:        zerolog.Nop(),
		dwell:         DefaultReviewDwell,
		invokeTimeout: 10 * time.Second,
		inbox:         make(chan envelope, 64),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
		state:         Initial(),
		subscribers:   make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.countdown = countdown.New(m.clock)
	m.invokeCtx, m.cancelInvoke = context.WithCancel(context.Background())
	m.register()
	return m
}

func (m *Machine) register() {
	m.ch.On(protocol.EvtUpdateLobby, decodeInto(m, func(entries []domain.Participant) Msg {
		return RosterUpdated{Entries: entries}
	}))
	m.ch.On(protocol.EvtUpdateProgress, decodeInto(m, func(entries []domain.Participant) Msg {
		return ProgressUpdated{Entries: entries}
	}))
	m.ch.On(protocol.EvtReceiveQuestion, decodeInto(m, func(q domain.Question) Msg {
		return QuestionReceived{Question: q}
	}))
	m.ch.On(protocol.EvtAnswerAccepted, decodeInto(m, func(a protocol.AnswerAcceptedArgs) Msg {
		return AnswerAccepted{OptionIndex: a.OptionIndex}
	}))
	m.ch.On(protocol.EvtShowAnswers, decodeInto(m, func(r domain.Reveal) Msg {
		return RevealReceived{Reveal: r}
	}))
	m.ch.On(protocol.EvtGameOver, decodeInto(m, func(f domain.FinalResult) Msg {
		return GameOverReceived{Final: f}
	}))
	m.ch.On(protocol.EvtSessionEnded, func(args json.RawMessage) {
		var ended protocol.SessionEndedArgs
		if len(args) > 0 {
			_ = json.Unmarshal(args, &ended)
		}
		m.post(envelope{msg: SessionEnded{Reason: ended.Reason}})
	})
	m.ch.OnLifecycle(func(l channel.Lifecycle) {
		var status ConnectionStatus
		switch l.Kind {
		case channel.LifecycleConnected:
			status = ConnectionUp
		case channel.LifecycleDropped, channel.LifecycleReconnecting:
			status = ConnectionReconnecting
		case channel.LifecycleTerminated:
			if l.Err == nil {
				// A clean server end arrives as SessionEnded.
				return
			}
			status = ConnectionLost
		default:
			return
		}
		m.post(envelope{msg: ConnectionChanged{Status: status, Attempt: l.Attempt, Err: l.Err}})
	})
}

func decodeInto[T any](m *Machine, build func(T) Msg) channel.Handler {
	return func(args json.RawMessage) {
		var v T
		if err := json.Unmarshal(args, &v); err != nil {
			m.logger.Warn().Err(err).Type("payload", v).Msg("discarding undecodable event")
			return
		}
		m.post(envelope{msg: build(v)})
	}
}

// Open connects the channel, starts the session loop and negotiates the room.
// On any failure the channel is released and the session never leaves
// the connecting phase.
func (m *Machine) Open(ctx context.Context, negotiator Negotiator, entry room.Entry) (domain.Session, error) {
	if err := m.ch.Connect(ctx); err != nil {
		m.shutdown()
		return domain.Session{}, err
	}
	m.start()

	sess, err := negotiator.Negotiate(ctx, entry)
	if err != nil {
		m.shutdown()
		<-m.done
		return domain.Session{}, err
	}
	if err := m.request(Negotiated{Session: sess}); err != nil {
		return domain.Session{}, err
	}
	m.logger.Info().Str("room", sess.RoomCode).Str("role", string(sess.Role)).Msg("session opened")
	return sess, nil
}

func (m *Machine) start() {
	if m.started.CompareAndSwap(false, true) {
		go m.run()
	}
}

// StartGame asks the service to begin. Host only, from the lobby, with at
// least one participant present. The phase does not change until the first
// question arrives.
func (m *Machine) StartGame() error {
	return m.request(StartGameRequested{})
}

// SubmitAnswer sends the local answer for the current question. A second
// call for the same question is a no-op.
func (m *Machine) SubmitAnswer(optionIndex int) error {
	return m.request(AnswerSubmitted{OptionIndex: optionIndex, At: m.clock.Now()})
}

// Exit ends the session locally. The channel is closed before the loop
// stops, so no late event can be applied.
func (m *Machine) Exit() error {
	if m.started.Load() {
		_ = m.request(ExitRequested{})
	}
	m.shutdown()
	<-m.done
	return nil
}

// Close is Exit.
func (m *Machine) Close() error {
	return m.Exit()
}

// Done is closed once the session loop has stopped.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel of state snapshots, starting with the current
// one. Slow readers only ever miss intermediate states. The caller must
// invoke cancel.
func (m *Machine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	ch <- m.state
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// PendingTimers counts the countdown, dwell and retry timers still armed.
func (m *Machine) PendingTimers() int {
	n := 0
	if m.countdown.Active() {
		n++
	}
	m.mu.Lock()
	for _, slot := range []*timerSlot{&m.dwellTimer, &m.retryTimer} {
		if slot.timer != nil {
			n++
		}
	}
	m.mu.Unlock()
	return n
}

func (m *Machine) post(env envelope) bool {
	select {
	case <-m.closing:
		return false
	default:
	}
	select {
	case m.inbox <- env:
		return true
	case <-m.closing:
		return false
	}
}

func (m *Machine) request(msg Msg) error {
	if !m.started.Load() {
		return fmt.Errorf("session not open: %w", domain.ErrNotConnected)
	}
	reply := make(chan error, 1)
	if !m.post(envelope{msg: msg, reply: reply}) {
		return fmt.Errorf("session closed: %w", domain.ErrNotConnected)
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return fmt.Errorf("session closed: %w", domain.ErrNotConnected)
		}
	}
}

func (m *Machine) run() {
	defer close(m.done)
	defer m.teardown()
	for {
		select {
		case <-m.closing:
			return
		case env := <-m.inbox:
			select {
			case <-m.closing:
				return
			default:
			}
			m.apply(env)
		case tick := <-m.countdown.Ticks():
			if tick.Expired {
				m.apply(envelope{msg: CountdownExpired{Generation: tick.Generation}})
			} else {
				m.apply(envelope{msg: CountdownTicked{Generation: tick.Generation, Remaining: tick.Remaining}})
			}
		}
	}
}

func (m *Machine) apply(env envelope) {
	m.mu.Lock()
	prev := m.state
	m.mu.Unlock()

	next, effects, err := Reduce(prev, env.msg)
	if env.reply != nil {
		env.reply <- err
	}
	if err != nil {
		if errors.Is(err, domain.ErrProtocolViolation) {
			m.logger.Warn().Err(err).Str("phase", string(prev.Phase)).Msg("discarding event")
		} else {
			m.logger.Debug().Err(err).Str("phase", string(prev.Phase)).Msg("intent rejected")
		}
		return
	}

	for _, r := range next.Regressions {
		m.logger.Warn().Str("participant", r.ParticipantID).Int("previous", r.Previous).
			Int("current", r.Current).Msg("score went down")
	}
	if failed, ok := env.msg.(InvocationFailed); ok {
		m.logger.Error().Err(failed.Err).Str("command", failed.Command).Msg("invocation failed")
	}
	if prev.Phase != next.Phase {
		m.logger.Info().Str("from", string(prev.Phase)).Str("to", string(next.Phase)).Msg("phase changed")
	}

	m.mu.Lock()
	m.state = next
	m.broadcastLocked()
	m.mu.Unlock()

	for _, effect := range effects {
		m.execute(effect)
	}
}

func (m *Machine) execute(effect Effect) {
	switch e := effect.(type) {
	case Invoke:
		m.invokes.Add(1)
		go func() {
			defer m.invokes.Done()
			ctx, cancel := context.WithTimeout(m.invokeCtx, m.invokeTimeout)
			defer cancel()
			if err := m.ch.Invoke(ctx, e.Command, e.Args, nil); err != nil {
				m.post(envelope{msg: InvocationFailed{Command: e.Command, Generation: e.Generation, Err: err}})
			}
		}()
	case ArmCountdown:
		m.countdown.Start(e.Seconds, e.Generation)
	case CancelCountdown:
		m.countdown.Cancel()
	case ArmDwell:
		m.arm(&m.dwellTimer, m.dwell, DwellElapsed{Generation: e.Generation})
	case CancelDwell:
		m.disarm(&m.dwellTimer)
	case ArmRetry:
		m.arm(&m.retryTimer, commandRetryDelay, RetryElapsed{Command: e.Command, Generation: e.Generation})
	case CancelRetry:
		m.disarm(&m.retryTimer)
	case CloseChannel:
		m.shutdown()
	}
}

// arm replaces whatever slot holds with a timer that posts fire after d.
// A timer that lost its slot before firing posts nothing.
func (m *Machine) arm(slot *timerSlot, d time.Duration, fire Msg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot.timer != nil {
		slot.timer.Stop()
	}
	var timer clockwork.Timer
	timer = m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		if slot.timer != timer {
			m.mu.Unlock()
			return
		}
		slot.timer = nil
		m.mu.Unlock()
		m.post(envelope{msg: fire})
	})
	slot.timer = timer
}

func (m *Machine) disarm(slot *timerSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
}

// shutdown stops accepting messages and releases the channel. Handlers
// blocked on the inbox give up once closing is closed, so the channel's
// reader can exit before Close waits on it.
func (m *Machine) shutdown() {
	m.closeOnce.Do(func() {
		close(m.closing)
		m.cancelInvoke()
		if err := m.ch.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("channel close")
		}
		if m.started.CompareAndSwap(false, true) {
			// The loop never ran; nothing else will close done.
			m.teardown()
			close(m.done)
		}
	})
}

func (m *Machine) teardown() {
	m.countdown.Cancel()
	m.disarm(&m.dwellTimer)
	m.disarm(&m.retryTimer)
	m.invokes.Wait()
}

func (m *Machine) broadcastLocked() {
	for ch := range m.subscribers {
		select {
		case ch <- m.state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- m.state
		}
	}
}
