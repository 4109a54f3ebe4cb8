package http

import (
	"context"
	"net/http"
	"time"

	"elsa-quiz-live/internal/hub"
	"elsa-quiz-live/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
)

type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	pongWait time.Duration
}

// WSOption customises a WSHandler.
type WSOption func(*WSHandler)

// WithPongWait sets how long a silent connection survives. Pings go out at
// nine tenths of it.
func WithPongWait(d time.Duration) WSOption {
	return func(h *WSHandler) { h.pongWait = d }
}

func NewWSHandler(h *hub.Hub, opts ...WSOption) *WSHandler {
	handler := &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pongWait: defaultPongWait,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler
}

// ServeWS upgrades an authenticated request and runs invocations from it
// against the hub until the connection drops.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	// The credential identifies the seat across reconnects.
	token, _ := bearerToken(r)
	peer := hub.NewAuthenticatedPeer(uuid.NewString(), token, 64)
	logger := log.With().Str("peer", peer.ID()).Logger()
	logger.Debug().Msg("peer connected")

	// The request context ends with the handler; invocations get their own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replies := make(chan protocol.Frame, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go func() {
		defer close(writerDone)
		ping := time.NewTicker(h.pongWait * 9 / 10)
		defer ping.Stop()
		for {
			var f protocol.Frame
			select {
			case f = <-replies:
			case event, ok := <-peer.Outbound():
				if !ok {
					return
				}
				f = event
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
				continue
			case <-closeSignals:
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				logger.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	for {
		var inbound protocol.Frame
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		if inbound.Type != protocol.FrameInvocation {
			continue
		}
		reply := h.hub.Handle(ctx, peer, inbound)
		select {
		case replies <- reply:
		case <-writerDone:
		}
	}

	h.hub.Leave(ctx, peer)
	close(closeSignals)
	peer.Close()
	<-writerDone
	logger.Debug().Msg("peer disconnected")
}
