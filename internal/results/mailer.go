// Package results requests the emailed summary a participant can ask for
// once a game is over.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"elsa-quiz-live/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// SendResultsPath is the REST route that mails a room's results.
const SendResultsPath = "/Game/send-results"

// ErrNoEmail is returned when the identity has no address to send to.
var ErrNoEmail = errors.New("no email address on identity")

// Request is the body of a send-results call.
type Request struct {
	RoomCode string `json:"roomCode"`
	Email    string `json:"email"`
}

// Mailer posts send-results requests to the platform API.
type Mailer struct {
	baseURL  string
	client   *http.Client
	identity domain.Identity
	logger   zerolog.Logger
	retries  uint64
}

// NewMailer builds a Mailer for baseURL (for example "http://host/api").
func NewMailer(baseURL string, identity domain.Identity, logger zerolog.Logger) *Mailer {
	return &Mailer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		identity: identity,
		logger:   logger,
		retries:  2,
	}
}

// SetHTTPClient replaces the underlying client.
func (m *Mailer) SetHTTPClient(client *http.Client) {
	m.client = client
}

// Send asks the API to mail the results of roomCode to the identity's
// address. Server errors are retried; client errors are not.
func (m *Mailer) Send(ctx context.Context, roomCode string) error {
	if m.identity.Email == "" {
		return ErrNoEmail
	}
	body, err := json.Marshal(Request{RoomCode: roomCode, Email: m.identity.Email})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.retries), ctx)
	err = backoff.Retry(func() error { return m.post(ctx, body) }, policy)
	if err != nil {
		m.logger.Error().Err(err).Str("room", roomCode).Msg("send results failed")
		return err
	}
	m.logger.Info().Str("room", roomCode).Msg("results email requested")
	return nil
}

func (m *Mailer) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+SendResultsPath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if m.identity.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+m.identity.Credential)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w: status %d", domain.ErrAuth, resp.StatusCode))
	case resp.StatusCode >= 500:
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		responseBody, _ := io.ReadAll(resp.Body)
		return backoff.Permanent(fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody)))
	}
	return nil
}
