package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/sdr-agent-platform/internal/leads"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// Kind selects the lead notification template.
type Kind string

const (
	KindQualified Kind = "qualified"
	KindScheduled Kind = "scheduled"
)

const notProvided = "not provided"

// KindForStatus maps a lead status to the notification it triggers, if any.
func KindForStatus(status leads.Status) (Kind, bool) {
	switch status {
	case leads.StatusQualified:
		return KindQualified, true
	case leads.StatusScheduled:
		return KindScheduled, true
	}
	return "", false
}

// LeadNotice is everything needed to tell an agency about one lead.
type LeadNotice struct {
	Kind       Kind
	TenantName string
	Recipients []string
	Snapshot   leads.Snapshot
}

// Delivery reports how many recipients were reached.
type Delivery struct {
	Sent   int
	Failed []string
}

// LeadNotifier emails agency operators when a lead qualifies or books a meeting.
type LeadNotifier struct {
	email  EmailSender
	logger *logging.Logger
}

// NewLeadNotifier panics without a sender; wire a StubEmailSender when email is disabled.
func NewLeadNotifier(email EmailSender, logger *logging.Logger) *LeadNotifier {
	if email == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LeadNotifier{email: email, logger: logger}
}

// Notify sends one email per recipient. A failure for one recipient does not
// stop the others; the joined error names every failed address.
func (n *LeadNotifier) Notify(ctx context.Context, notice LeadNotice) (Delivery, error) {
	var delivery Delivery
	recipients := cleanRecipients(notice.Recipients)
	if len(recipients) == 0 {
		return delivery, ErrNoRecipients
	}
	msg := BuildLeadEmail(notice)

	var errs []error
	for _, to := range recipients {
		msg.To = to
		if err := n.email.Send(ctx, msg); err != nil {
			n.logger.Warn("notify: lead email failed", "tenant_id", notice.Snapshot.TenantID, "kind", notice.Kind, "to", to, "error", err)
			delivery.Failed = append(delivery.Failed, to)
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
			continue
		}
		delivery.Sent++
	}
	if len(errs) > 0 {
		return delivery, fmt.Errorf("notify: %d of %d lead email(s) failed: %w", len(errs), len(recipients), errors.Join(errs...))
	}
	n.logger.Info("notify: lead emails sent", "tenant_id", notice.Snapshot.TenantID, "kind", notice.Kind, "recipients", delivery.Sent)
	return delivery, nil
}

// ParseRecipients splits a comma or semicolon separated address list.
func ParseRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	return cleanRecipients(fields)
}

func cleanRecipients(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" || !strings.Contains(r, "@") || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// BuildLeadEmail renders the subject and bodies for a notice. To is left empty.
func BuildLeadEmail(notice LeadNotice) EmailMessage {
	snap := notice.Snapshot
	name := snap.Data.Name
	if name == "" {
		name = snap.DisplayName
	}
	if name == "" {
		name = "New lead"
	}

	var subject, headline string
	switch notice.Kind {
	case KindScheduled:
		subject = "Meeting scheduled: " + name
		headline = "Meeting scheduled"
	default:
		subject = "Qualified lead: " + name
		headline = "Qualified lead"
	}
	if notice.TenantName != "" {
		subject = fmt.Sprintf("[%s] %s", notice.TenantName, subject)
	}

	rows := [][2]string{
		{"Name", orNotProvided(snap.Data.Name)},
		{"Phone (WhatsApp)", orNotProvided(snap.Phone)},
		{"Company", orNotProvided(snap.Data.Company)},
		{"Role", orNotProvided(snap.Data.Role)},
		{"Challenge", orNotProvided(snap.Data.Challenge)},
		{"Budget", orNotProvided(snap.Data.Budget)},
		{"Urgency", orNotProvided(snap.Data.Urgency)},
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s: %s is ready for contact.\n\n", headline, name)
	for _, row := range rows {
		fmt.Fprintf(&text, "%s: %s\n", row[0], row[1])
	}
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(&text, "\nUpdated: %s\n", snap.UpdatedAt.UTC().Format(time.RFC1123))
	}
	text.WriteString("\nSent automatically by the SDR agent.\n")

	var body strings.Builder
	body.WriteString(`<div style="font-family: Arial, sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&body, `<h2 style="margin: 0 0 8px;">%s</h2><p>%s is ready for contact.</p>`, html.EscapeString(headline), html.EscapeString(name))
	body.WriteString(`<table style="border-collapse: collapse;">`)
	for _, row := range rows {
		fmt.Fprintf(&body, `<tr><td style="padding: 4px 12px 4px 0; color: #6b7280;"><strong>%s</strong></td><td style="padding: 4px 0;">%s</td></tr>`,
			html.EscapeString(row[0]), html.EscapeString(row[1]))
	}
	body.WriteString(`</table><p style="color: #6b7280; font-size: 12px;">Sent automatically by the SDR agent.</p></div>`)

	return EmailMessage{
		Subject: subject,
		Body:    text.String(),
		HTML:    body.String(),
	}
}

func orNotProvided(v string) string {
	if strings.TrimSpace(v) == "" {
		return notProvided
	}
	return v
}
