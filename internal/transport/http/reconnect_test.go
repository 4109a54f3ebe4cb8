package http

import (
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"elsa-quiz-live/internal/channel"
	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/room"
	"elsa-quiz-live/internal/session"
)

// linkCutter relays TCP connections to a server and can sever every open
// link at once, the way a flaky network would.
type linkCutter struct {
	ln     net.Listener
	target string

	mu       sync.Mutex
	conns    []net.Conn
	accepted int
}

func newLinkCutter(t *testing.T, server *httptest.Server) *linkCutter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l := &linkCutter{ln: ln, target: strings.TrimPrefix(server.URL, "http://")}
	go l.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		l.cut()
	})
	return l
}

func (l *linkCutter) serve() {
	for {
		down, err := l.ln.Accept()
		if err != nil {
			return
		}
		up, err := net.Dial("tcp", l.target)
		if err != nil {
			_ = down.Close()
			continue
		}
		l.mu.Lock()
		l.conns = append(l.conns, down, up)
		l.accepted++
		l.mu.Unlock()
		go relay(up, down)
		go relay(down, up)
	}
}

func relay(dst, src net.Conn) {
	_, _ = io.Copy(dst, src)
	_ = dst.Close()
}

func (l *linkCutter) url() string {
	return "ws://" + l.ln.Addr().String() + "/ws"
}

func (l *linkCutter) cut() {
	l.mu.Lock()
	conns := l.conns
	l.conns = nil
	l.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (l *linkCutter) links() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

func playerStatus(c *liveClient, name string) domain.ParticipantStatus {
	for _, p := range c.machine.Snapshot().Projection.Roster() {
		if p.DisplayName == name {
			return p.Status
		}
	}
	return ""
}

func TestPlayerKeepsSeatAcrossDroppedLink(t *testing.T) {
	server := newLiveServer(t)
	link := newLinkCutter(t, server)

	host, err := openClient(t, server, domain.Identity{Credential: "h", DisplayName: "Host"},
		room.Entry{Role: domain.RoleHost, QuizID: "live"})
	if err != nil {
		t.Fatalf("host open: %v", err)
	}

	cfg := channel.DefaultConfig(link.url())
	cfg.MaxReconnectAttempts = 5
	cfg.InitialBackoff = 300 * time.Millisecond
	player, err := openClientWith(t, cfg, domain.Identity{Credential: "p", DisplayName: "Alice"},
		room.Entry{Role: domain.RolePlayer, RoomCode: host.session.RoomCode})
	if err != nil {
		t.Fatalf("player open: %v", err)
	}
	waitUntil(t, "player online", func() bool { return playerStatus(host, "Alice") == domain.StatusOnline })

	link.cut()
	waitUntil(t, "player offline", func() bool { return playerStatus(host, "Alice") == domain.StatusOffline })
	waitUntil(t, "player back online", func() bool { return playerStatus(host, "Alice") == domain.StatusOnline })
	if link.links() != 2 {
		t.Fatalf("expected one reconnect, saw %d links", link.links())
	}
	if host.machine.Snapshot().Projection.Size() != 1 {
		t.Fatalf("the reconnect must reuse the seat, got %+v", host.machine.Snapshot().Projection.Roster())
	}

	if err := host.machine.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, "first question", func() bool {
		s := player.machine.Snapshot()
		return s.Phase == domain.PhaseQuestionActive && s.Question.Ordinal == 1
	})
	if err := player.machine.SubmitAnswer(1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitUntil(t, "answer accepted", func() bool { return player.machine.Snapshot().Accepted })

	waitUntil(t, "game over", func() bool {
		return player.machine.Snapshot().Phase == domain.PhaseGameOver && host.machine.Snapshot().Phase == domain.PhaseGameOver
	})
	if final := player.machine.Snapshot().Final; final.WinnerName != "Alice" || final.WinnerScore < 500 {
		t.Fatalf("unexpected final result %+v", final)
	}
	if player.machine.Snapshot().Connection != session.ConnectionUp {
		t.Fatalf("expected the player link up, got %s", player.machine.Snapshot().Connection)
	}
}
