package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

type fakeSendGrid struct {
	status int
	err    error
	sent   []*mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

type fakeSES struct {
	err    error
	inputs []*sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "test@example.com"}, nil)
	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "test@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.fromName)
	}
}

func TestSendGridSender_Send(t *testing.T) {
	api := &fakeSendGrid{status: 202}
	sender := newSendGridSenderWithClient(api, SendGridConfig{FromEmail: "bot@example.com", FromName: "Acme SDR"}, logging.Discard())

	err := sender.Send(context.Background(), EmailMessage{To: "ops@example.com", Subject: "Hello", Body: "plain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(api.sent))
	}
	if api.sent[0].From.Name != "Acme SDR" || api.sent[0].Subject != "Hello" {
		t.Errorf("unexpected message: %+v", api.sent[0])
	}
}

func TestSendGridSender_Send_ErrorStatus(t *testing.T) {
	api := &fakeSendGrid{status: 401}
	sender := newSendGridSenderWithClient(api, SendGridConfig{FromEmail: "bot@example.com"}, logging.Discard())

	if err := sender.Send(context.Background(), EmailMessage{To: "ops@example.com"}); err == nil {
		t.Error("expected error for 401 status")
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	if err := sender.Send(context.Background(), EmailMessage{To: "recipient@example.com"}); err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestSESSender_Send(t *testing.T) {
	api := &fakeSES{}
	sender := newSESSenderWithClient(api, SESConfig{FromEmail: "bot@example.com"}, logging.Discard())

	err := sender.Send(context.Background(), EmailMessage{To: "ops@example.com", Subject: "Hi", Body: "text", HTML: "<p>text</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := api.inputs[0]
	if got := aws.ToString(in.FromEmailAddress); got != "SDR Agent <bot@example.com>" {
		t.Errorf("unexpected from address %q", got)
	}
	if in.Content.Simple.Body.Text == nil || in.Content.Simple.Body.Html == nil {
		t.Error("expected text and html bodies")
	}
}

func TestSESSender_Send_Error(t *testing.T) {
	api := &fakeSES{err: errors.New("throttled")}
	sender := newSESSenderWithClient(api, SESConfig{FromEmail: "bot@example.com"}, logging.Discard())

	if err := sender.Send(context.Background(), EmailMessage{To: "ops@example.com", Body: "x"}); err == nil {
		t.Error("expected error from SES")
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Error("expected nil sender without client")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "recipient@example.com"}); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}
