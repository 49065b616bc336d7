package messenger

import (
	"encoding/json"
	"fmt"
	"time"
)

// ObjectPage is the webhook object type for Page subscriptions.
const ObjectPage = "page"

// WebhookPayload is the body of a Messenger webhook POST.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

type Messaging struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *Message    `json:"message,omitempty"`
}

type Participant struct {
	ID string `json:"id"`
}

type Message struct {
	Mid    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// InboundEvent is a normalised text message from an end user.
type InboundEvent struct {
	UserID    string
	Text      string
	MessageID string
	Timestamp time.Time
}

// ParseEvents decodes a webhook body and returns its object type and every
// text message it carries. Echoes of the page's own messages and items
// without a sender or text are dropped.
func ParseEvents(body []byte) (string, []InboundEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	var events []InboundEvent
	for _, entry := range payload.Entry {
		for _, item := range entry.Messaging {
			if item.Message == nil || item.Message.IsEcho {
				continue
			}
			if item.Sender.ID == "" || item.Message.Text == "" {
				continue
			}

			event := InboundEvent{
				UserID:    item.Sender.ID,
				Text:      item.Message.Text,
				MessageID: item.Message.Mid,
			}
			if item.Timestamp > 0 {
				event.Timestamp = time.UnixMilli(item.Timestamp)
			}
			events = append(events, event)
		}
	}

	return payload.Object, events, nil
}
