package fanout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/wolfman30/sdr-agent-platform/internal/leads"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

const (
	defaultCalendarID       = "primary"
	defaultCalendarTimezone = "America/Sao_Paulo"
	defaultMeetingMinutes   = 60
	defaultMeetingHour      = 10
	meetingAtField          = "meeting_at"
)

// CalendarSink books the meeting on the tenant's Google Calendar when a lead
// becomes scheduled. The start time comes from the lead's meeting_at field
// (RFC 3339) or defaults to the next day at default_hour.
type CalendarSink struct {
	svc        *calendar.Service
	calendarID string
	loc        *time.Location
	duration   time.Duration
	hour       int
	attendees  []string
	now        func() time.Time
}

// NewCalendarFactory builds calendar sinks. Settings: optional calendar_id,
// timezone, duration_minutes, default_hour and attendees (comma separated).
func NewCalendarFactory(svc *calendar.Service) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		s := &CalendarSink{
			svc:        svc,
			calendarID: cfg.Setting("calendar_id"),
			duration:   defaultMeetingMinutes * time.Minute,
			hour:       defaultMeetingHour,
			now:        time.Now,
		}
		if s.calendarID == "" {
			s.calendarID = defaultCalendarID
		}
		tz := cfg.Setting("timezone")
		if tz == "" {
			tz = defaultCalendarTimezone
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: calendar timezone %q: %v", ErrSinkConfig, tz, err)
		}
		s.loc = loc
		if raw := cfg.Setting("duration_minutes"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: calendar duration_minutes %q", ErrSinkConfig, raw)
			}
			s.duration = time.Duration(n) * time.Minute
		}
		if raw := cfg.Setting("default_hour"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 || n > 23 {
				return nil, fmt.Errorf("%w: calendar default_hour %q", ErrSinkConfig, raw)
			}
			s.hour = n
		}
		for _, a := range strings.Split(cfg.Setting("attendees"), ",") {
			if a = strings.TrimSpace(a); a != "" {
				s.attendees = append(s.attendees, a)
			}
		}
		return s, nil
	}
}

func (s *CalendarSink) Name() string { return SinkCalendar }

// ShouldSend fires once, on the transition into scheduled.
func (s *CalendarSink) ShouldSend(job Job) bool {
	return job.Snapshot.Status == leads.StatusScheduled && job.PreviousStatus != leads.StatusScheduled
}

// MeetingStart picks the event start for job.
func (s *CalendarSink) MeetingStart(job Job) time.Time {
	if raw := job.Snapshot.Data.Get(meetingAtField); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.In(s.loc)
		}
	}
	next := s.now().In(s.loc).AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), s.hour, 0, 0, 0, s.loc)
}

func (s *CalendarSink) Send(ctx context.Context, job Job) SinkResult {
	data := job.Snapshot.Data
	start := s.MeetingStart(job)
	end := start.Add(s.duration)

	summary := "Reunião: " + data.Name
	if data.Company != "" {
		summary += " (" + data.Company + ")"
	}
	var desc strings.Builder
	fmt.Fprintf(&desc, "WhatsApp: +%s\n", job.Snapshot.Phone)
	for _, field := range []string{leads.FieldRole, leads.FieldChallenge, leads.FieldBudget, leads.FieldUrgency} {
		if v := data.Get(field); v != "" {
			fmt.Fprintf(&desc, "%s: %s\n", field, v)
		}
	}
	desc.WriteString("Origem: " + leadOrigin)

	event := &calendar.Event{
		Summary:     summary,
		Description: desc.String(),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: s.loc.String()},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: s.loc.String()},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 30},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	attendees := s.attendees
	if email := data.Get("email"); email != "" {
		attendees = append(append([]string(nil), attendees...), email)
	}
	for _, a := range attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: a})
	}

	created, err := s.svc.Events.Insert(s.calendarID, event).Context(ctx).Do()
	if err != nil {
		return failure(fmt.Errorf("calendar: insert event: %w", err), "")
	}
	return success(fmt.Sprintf("event_id=%s %s", created.Id, created.HtmlLink))
}
