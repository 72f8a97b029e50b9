package fanout

import (
	"context"
	"errors"
)

// Sink type names, as configured per tenant.
const (
	SinkRDStation    = "rdstation"
	SinkPipedrive    = "pipedrive"
	SinkNotion       = "notion"
	SinkMoskit       = "moskit"
	SinkZoho         = "zoho"
	SinkCalendar     = "calendar"
	SinkWebhook      = "webhook"
	SinkSheets       = "sheets"
	SinkNotification = "notification"
	SinkEvents       = "events"
	SinkArchive      = "archive"
)

// Status is the outcome of one sink delivery.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// SinkResult is what a sink reports back. Response is a short, loggable
// summary of what the destination answered.
type SinkResult struct {
	Sink     string `json:"sink"`
	Status   Status `json:"status"`
	Response string `json:"response,omitempty"`
	Err      error  `json:"-"`
}

// Error returns the error text, or "".
func (r SinkResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func success(response string) SinkResult {
	return SinkResult{Status: StatusSuccess, Response: response}
}

func failure(err error, response string) SinkResult {
	if err == nil {
		err = errors.New("fanout: sink failed")
	}
	return SinkResult{Status: StatusFailure, Response: response, Err: err}
}

func skipped(reason string) SinkResult {
	return SinkResult{Status: StatusSkipped, Response: reason}
}

// Sink pushes a lead snapshot to one external destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, job Job) SinkResult
}

// TriggeredSink only fires for some jobs; the dispatcher records a skip otherwise.
type TriggeredSink interface {
	Sink
	ShouldSend(job Job) bool
}

// SinkSource returns the sinks enabled for a tenant.
type SinkSource interface {
	Sinks(ctx context.Context, tenantID string) ([]Sink, error)
}

// unavailableSink stands in for a configured sink that cannot run.
type unavailableSink struct {
	name   string
	err    error
	reason string
}

func (s unavailableSink) Name() string { return s.name }

func (s unavailableSink) Send(ctx context.Context, job Job) SinkResult {
	if s.err != nil {
		return failure(s.err, "")
	}
	return skipped(s.reason)
}
