package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

var webhookTracer = otel.Tracer("catalogai.internal.messaging.webhook")

// InboundMessage is one customer message relayed in by the channel gateway.
type InboundMessage struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	ImageB64  string `json:"image_base64,omitempty"`
	ImageMIME string `json:"image_mime,omitempty"`
}

// TurnEnqueuer schedules one inbound message for processing. The conversation
// dispatcher implements it.
type TurnEnqueuer interface {
	EnqueueTurn(ctx context.Context, jobID string, msg InboundMessage) error
}

// Handler handles channel webhook requests.
type Handler struct {
	webhookSecret string
	enqueuer      TurnEnqueuer
	logger        *logging.Logger
}

// NewHandler creates a new messaging webhook handler.
func NewHandler(webhookSecret string, enqueuer TurnEnqueuer, logger *logging.Logger) *Handler {
	if enqueuer == nil {
		panic("messaging: enqueuer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		webhookSecret: webhookSecret,
		enqueuer:      enqueuer,
		logger:        logger,
	}
}

// Webhook handles POST /messaging/webhook requests. It acknowledges fast and
// hands the turn to the queue; the reply goes out asynchronously over the
// transport.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhookTracer.Start(r.Context(), "messaging.webhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.webhookSecret != "" {
		if !ValidateSignature(body, r.Header.Get("X-Hub-Signature-256"), h.webhookSecret) {
			h.logger.Warn("invalid webhook signature")
			span.RecordError(errors.New("invalid webhook signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var msg InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.logger.Error("failed to decode webhook payload", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if msg.From == "" || (strings.TrimSpace(msg.Text) == "" && msg.ImageB64 == "") {
		h.logger.Error("webhook payload missing required fields")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("catalogai.message_id", msg.MessageID),
		attribute.Bool("catalogai.has_image", msg.ImageB64 != ""),
	)

	jobID := msg.MessageID
	if jobID == "" {
		jobID = fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}

	publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.enqueuer.EnqueueTurn(publishCtx, jobID, msg); err != nil {
		h.logger.Error("failed to enqueue turn", "error", err, "message_id", msg.MessageID)
		http.Error(w, "Failed to schedule reply", http.StatusInternalServerError)
		span.RecordError(err)
		return
	}

	h.logger.Info("webhook accepted", "message_id", msg.MessageID, "from", msg.From)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ValidateSignature checks the hex HMAC-SHA256 signature header against the
// raw request body.
func ValidateSignature(body []byte, header, secret string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	expected, err := hex.DecodeString(header)
	if err != nil || len(expected) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
