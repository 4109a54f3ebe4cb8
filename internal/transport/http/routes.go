package http

import (
	"net/http"
	"strings"
	"time"

	"elsa-quiz-live/internal/hub"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Authenticator decides whether a bearer token may use the service.
type Authenticator func(token string) bool

// StaticTokens accepts the listed tokens. An empty list accepts any
// non-empty token.
func StaticTokens(tokens []string) Authenticator {
	allowed := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		allowed[t] = struct{}{}
	}
	return func(token string) bool {
		if token == "" {
			return false
		}
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[token]
		return ok
	}
}

// NewRouter wires the websocket endpoint and the REST routes of the hub.
func NewRouter(h *hub.Hub, auth Authenticator, opts ...WSOption) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	ws := NewWSHandler(h, opts...)
	results := NewResultsHandler(h)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.With(bearerAuth(auth)).Get("/ws", ws.ServeWS)
	r.Route("/api/Game", func(r chi.Router) {
		r.Use(bearerAuth(auth))
		r.Post("/send-results", results.SendResults)
	})
	return r
}

func bearerAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || !auth(token) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
