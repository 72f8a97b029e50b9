package evolution

import (
	"testing"
	"time"
)

func TestParseWebhookTextMessage(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"instance": "acme-instance",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": false, "id": "3EB0C431"},
			"pushName": "Ana Souza",
			"message": {"conversation": "  Oi, tudo bem?  "},
			"messageType": "conversation",
			"messageTimestamp": 1717000000
		}
	}`)

	res, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Ignored {
		t.Fatalf("expected message, got ignored: %s", res.Reason)
	}
	want := InboundMessage{
		Instance:    "acme-instance",
		Phone:       "5511999990000",
		DisplayName: "Ana Souza",
		Text:        "Oi, tudo bem?",
		MessageID:   "3EB0C431",
		SentAt:      time.Unix(1717000000, 0).UTC(),
	}
	if res.Message != want {
		t.Fatalf("unexpected message %#v", res.Message)
	}
}

func TestParseWebhookExtendedText(t *testing.T) {
	body := []byte(`{"event":"MESSAGES_UPSERT","instance":"i","data":{"key":{"remoteJid":"5511988887777@s.whatsapp.net","id":"X"},"message":{"extendedTextMessage":{"text":"veja https://acme.com"}},"messageTimestamp":"1717000001"}}`)

	res, err := ParseWebhook(body)
	if err != nil || res.Ignored {
		t.Fatalf("expected message, got %#v err=%v", res, err)
	}
	if res.Message.Text != "veja https://acme.com" || res.Message.Phone != "5511988887777" {
		t.Fatalf("unexpected message %#v", res.Message)
	}
	if res.Message.SentAt.Unix() != 1717000001 {
		t.Fatalf("expected string timestamp to parse, got %v", res.Message.SentAt)
	}
}

func TestParseWebhookIgnored(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"other event", `{"event":"connection.update","instance":"i","data":{}}`, "event type: connection.update"},
		{"own message", `{"event":"messages.upsert","data":{"key":{"remoteJid":"55@s.whatsapp.net","fromMe":true},"message":{"conversation":"hi"}}}`, "own message"},
		{"group", `{"event":"messages.upsert","data":{"key":{"remoteJid":"1203630@g.us"},"message":{"conversation":"hi"}}}`, "group or broadcast"},
		{"no text", `{"event":"messages.upsert","data":{"key":{"remoteJid":"55@s.whatsapp.net"},"message":{"imageMessage":{}}}}`, "no text content"},
		{"no sender", `{"event":"messages.upsert","data":{"key":{"remoteJid":""},"message":{"conversation":"hi"}}}`, "missing sender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseWebhook([]byte(tt.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !res.Ignored || res.Reason != tt.reason {
				t.Fatalf("expected ignored %q, got %#v", tt.reason, res)
			}
		})
	}
}

func TestParseWebhookMalformed(t *testing.T) {
	if _, err := ParseWebhook([]byte(`{not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
