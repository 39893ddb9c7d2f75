// Package outbound delivers replies through the messaging provider.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/porterlabs/porter-agent/internal/events"
	"github.com/porterlabs/porter-agent/internal/httpkit"
)

// Sender is the outbound delivery boundary.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// HTTPSender posts messages to the provider's send endpoint. Transient
// dial failures retry inside the transport; anything past that is the
// caller's problem.
type HTTPSender struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	logger     *slog.Logger
	bus        *events.Bus
}

// NewHTTPSender creates the provider-backed sender.
func NewHTTPSender(baseURL, apiKey, from string, logger *slog.Logger, bus *events.Bus) *HTTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSender{
		baseURL:    baseURL,
		apiKey:     apiKey,
		from:       from,
		httpClient: httpkit.NewClient(httpkit.WithRetry(2, time.Second), httpkit.WithLogger(logger)),
		logger:     logger,
		bus:        bus,
	}
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send delivers one message.
func (s *HTTPSender) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(sendRequest{From: s.from, To: to, Body: body})
	if err != nil {
		return fmt.Errorf("outbound: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("outbound: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("outbound: send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("outbound: HTTP %d: %s", resp.StatusCode, msg)
	}
	httpkit.DrainAndClose(resp.Body, 1024)

	s.logger.Debug("message sent", "to", to, "chars", len(body))
	s.bus.Publish(events.Event{
		Source: events.SourceOutbound,
		Kind:   events.KindReplySent,
		Data:   map[string]any{"to": to, "chars": len(body)},
	})
	return nil
}
