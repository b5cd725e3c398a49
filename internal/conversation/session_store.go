package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sessionTTL = 24 * time.Hour

// ErrSessionNotFound indicates no persisted session for the conversation id.
var ErrSessionNotFound = errors.New("conversation: session not found")

// SessionStore persists sessions in Redis with a rolling TTL.
type SessionStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewSessionStore(client *redis.Client) *SessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &SessionStore{
		redis:  client,
		tracer: otel.Tracer("catalogai.internal.conversation.sessions"),
	}
}

func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_session")
	defer span.End()

	if session == nil || session.ID == "" {
		return errors.New("conversation: session id is required")
	}
	data, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(session.ID), data, sessionTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, conversationID string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	if session.Vars == nil {
		session.Vars = make(map[string]string)
	}
	return &session, nil
}

// LoadOrNew returns the stored session or a fresh one for first contact.
func (s *SessionStore) LoadOrNew(ctx context.Context, conversationID string) (*Session, error) {
	session, err := s.Load(ctx, conversationID)
	if errors.Is(err, ErrSessionNotFound) {
		return NewSession(conversationID), nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}
