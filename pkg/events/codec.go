package events

import (
	"encoding/json"
	"fmt"

	"userservice/pkg/models"
)

// Encode serializes an event for the wire.
func Encode(event models.UserEvent) ([]byte, error) {
	if event.Kind == "" {
		return nil, fmt.Errorf("events: encode: empty event kind")
	}
	return json.Marshal(event)
}

// Decode parses a queued message body. Any failure, including a missing
// event kind or a USER_REGISTERED event without a user, wraps ErrParse.
func Decode(body []byte) (models.UserEvent, error) {
	var event models.UserEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.UserEvent{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if event.Kind == "" {
		return models.UserEvent{}, fmt.Errorf("%w: missing event kind", ErrParse)
	}
	if event.Kind == models.EventUserRegistered && (event.User.ID == "" || event.User.Email == "") {
		return models.UserEvent{}, fmt.Errorf("%w: %s without user id or email", ErrParse, event.Kind)
	}
	return event, nil
}
