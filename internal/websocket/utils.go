package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/logger"
	"github.com/google/uuid"
)

// builds a message with a JSON-encoded payload
func NewMessage(msgType, sessionID, userID string, payload any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}

	return msg, nil
}

// decodes the payload into v
func (m *Message) UnmarshalPayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrInvalidMessage, m.Type)
	}

	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	return nil
}

// hides internal error text from production clients
func sanitizeErrorString(details string) string {
	if details == "" || os.Getenv("ENVIRONMENT") != "production" {
		return details
	}
	return ""
}

// NewOriginChecker accepts any origin outside production; in production
// only the allowed origins may open a socket.
func NewOriginChecker(environment string, allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if environment != "production" {
			return true
		}

		origin := r.Header.Get("Origin")
		if origin == "" {
			logger.Warn("websocket connection with no origin header")
			return false
		}

		if slices.Contains(allowedOrigins, origin) {
			return true
		}

		logger.Warn("websocket origin rejected - not in allowed origins",
			"origin", origin,
			"allowed_origins", allowedOrigins,
		)

		return false
	}
}

func GenerateClientID() string {
	return uuid.NewString()
}
