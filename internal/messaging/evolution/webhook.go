package evolution

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const eventMessagesUpsert = "messages.upsert"

// WebhookPayload is the subset of an Evolution webhook body the service reads.
type WebhookPayload struct {
	Event    string      `json:"event"`
	Instance string      `json:"instance"`
	Data     MessageData `json:"data"`
}

type MessageData struct {
	Key              MessageKey     `json:"key"`
	PushName         string         `json:"pushName"`
	Message          MessageContent `json:"message"`
	MessageType      string         `json:"messageType"`
	MessageTimestamp flexibleInt64  `json:"messageTimestamp"`
}

type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type MessageContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
}

// InboundMessage is a lead's text message decoded from a webhook.
type InboundMessage struct {
	Instance    string
	Phone       string
	DisplayName string
	Text        string
	MessageID   string
	SentAt      time.Time
}

// WebhookResult is either a usable message or the reason the event was skipped.
type WebhookResult struct {
	Message InboundMessage
	Ignored bool
	Reason  string
}

func ignored(reason string) WebhookResult {
	return WebhookResult{Ignored: true, Reason: reason}
}

// ParseWebhook decodes an Evolution webhook body. Only text messages.upsert
// events from other parties produce a message; everything else is ignored.
// Malformed JSON is the only error.
func ParseWebhook(body []byte) (WebhookResult, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookResult{}, fmt.Errorf("evolution: decode webhook: %w", err)
	}

	event := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(payload.Event), "_", "."))
	if event != eventMessagesUpsert {
		return ignored("event type: " + payload.Event), nil
	}
	data := payload.Data
	if data.Key.FromMe {
		return ignored("own message"), nil
	}
	jid := strings.TrimSpace(data.Key.RemoteJID)
	if strings.HasSuffix(jid, "@g.us") || strings.HasPrefix(jid, "status@") {
		return ignored("group or broadcast"), nil
	}
	phone := jid
	if at := strings.IndexByte(phone, '@'); at >= 0 {
		phone = phone[:at]
	}
	if phone == "" {
		return ignored("missing sender"), nil
	}
	text := extractText(data.Message)
	if text == "" {
		return ignored("no text content"), nil
	}

	msg := InboundMessage{
		Instance:    strings.TrimSpace(payload.Instance),
		Phone:       phone,
		DisplayName: strings.TrimSpace(data.PushName),
		Text:        text,
		MessageID:   strings.TrimSpace(data.Key.ID),
	}
	if data.MessageTimestamp > 0 {
		msg.SentAt = time.Unix(int64(data.MessageTimestamp), 0).UTC()
	}
	return WebhookResult{Message: msg}, nil
}

func extractText(m MessageContent) string {
	if text := strings.TrimSpace(m.Conversation); text != "" {
		return text
	}
	if m.ExtendedTextMessage != nil {
		return strings.TrimSpace(m.ExtendedTextMessage.Text)
	}
	return ""
}

// flexibleInt64 accepts both 1700000000 and "1700000000".
type flexibleInt64 int64

func (f *flexibleInt64) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Some payloads carry a protobuf Long object; the timestamp is informational only.
		*f = 0
		return nil
	}
	*f = flexibleInt64(n)
	return nil
}
