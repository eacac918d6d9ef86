package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gateway delivers instructions to a local agent gateway over HTTP with
// bearer-token auth. It is the primary dispatch transport.
type Gateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGateway creates a gateway transport with a bounded request timeout.
func NewGateway(baseURL, token string, timeout time.Duration) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type gatewayRequest struct {
	AgentID string `json:"agent_id,omitempty"`
	Message string `json:"message"`
	Channel string `json:"channel"`
}

// Send posts the instruction to the gateway. Any non-2xx response or network
// error is returned as a failure; the caller decides about the fallback.
func (g *Gateway) Send(ctx context.Context, agentID, message, channel string) error {
	payload, err := json.Marshal(gatewayRequest{AgentID: agentID, Message: message, Channel: channel})
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
