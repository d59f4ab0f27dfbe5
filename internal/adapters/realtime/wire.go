package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/events"
)

// Envelope is the JSON text frame exchanged on the push channel.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// SubscribePayload is the body of subscribe/unsubscribe control frames.
type SubscribePayload struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

// PingPayload is the body of heartbeat frames.
type PingPayload struct {
	Timestamp string `json:"timestamp"`
}

// EncodeFrame marshals one outbound frame with an ISO-8601 timestamp.
func EncodeFrame(kind events.Kind, payload any, now time.Time) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{
		Type:      string(kind),
		Payload:   raw,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// DecodeFrame parses an inbound frame into its typed payload. The switch is
// exhaustive over the inbound kinds; anything else is rejected so a silent
// protocol drift shows up in the logs instead of as a mystery.
func DecodeFrame(data []byte) (events.Kind, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("malformed frame: %w", err)
	}

	kind := events.Kind(env.Type)
	switch kind {
	case events.KindJobUpdate:
		var p events.JobUpdate
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return kind, nil, fmt.Errorf("decode job_update: %w", err)
		}
		return kind, p, nil
	case events.KindResourceUpdate:
		var p events.ResourceUpdate
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return kind, nil, fmt.Errorf("decode resource_update: %w", err)
		}
		return kind, p, nil
	case events.KindNotification:
		var p domain.Notification
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return kind, nil, fmt.Errorf("decode notification: %w", err)
		}
		return kind, p, nil
	case events.KindSystemMessage:
		return kind, events.SystemMessage{Payload: env.Payload}, nil
	case events.KindPing:
		var p PingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return kind, nil, fmt.Errorf("decode ping: %w", err)
		}
		return kind, p, nil
	default:
		return kind, nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}
