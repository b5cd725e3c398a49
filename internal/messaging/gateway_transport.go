package messaging

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

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// GatewayConfig controls the channel gateway transport.
type GatewayConfig struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// GatewayTransport delivers outbound messages to the WhatsApp channel gateway
// over its REST API. One request per message keeps delivery order.
type GatewayTransport struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ Transport = (*GatewayTransport)(nil)

// NewGatewayTransport creates a configured gateway transport.
func NewGatewayTransport(cfg GatewayConfig) (*GatewayTransport, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("messaging: gateway base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &GatewayTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   cfg.APIToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type gatewaySendRequest struct {
	To      string  `json:"to"`
	Message Message `json:"message"`
}

// Send posts each message to the gateway in order, stopping at the first
// failure so retries do not reorder the conversation.
func (t *GatewayTransport) Send(ctx context.Context, to string, messages []Message) error {
	for i, msg := range messages {
		if err := t.sendOne(ctx, to, msg); err != nil {
			return fmt.Errorf("messaging: gateway send %d/%d: %w", i+1, len(messages), err)
		}
	}
	return nil
}

func (t *GatewayTransport) sendOne(ctx context.Context, to string, msg Message) error {
	body, err := json.Marshal(gatewaySendRequest{To: to, Message: msg})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiToken)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		t.logger.Error("gateway rejected message",
			"status", resp.StatusCode, "to", to, "body", string(payload))
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}
