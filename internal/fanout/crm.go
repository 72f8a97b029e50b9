package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

const (
	rdStationURL              = "https://api.rd.services/platform/conversions"
	rdDefaultConversionID     = "lead-whatsapp-sdr"
	pipedriveDefaultBaseURL   = "https://api.pipedrive.com/v1"
	pipedriveDefaultDealTitle = "Lead WhatsApp - %s"
)

// RDStationSink posts a conversion event to RD Station Marketing.
type RDStationSink struct {
	client       *http.Client
	endpoint     string
	apiKey       string
	conversionID string
}

// NewRDStationFactory builds RD Station sinks. Settings: api_key, optional
// conversion_identifier and endpoint.
func NewRDStationFactory(client *http.Client) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		key, err := requireSetting(cfg, "api_key")
		if err != nil {
			return nil, err
		}
		s := &RDStationSink{
			client:       client,
			endpoint:     cfg.Setting("endpoint"),
			apiKey:       key,
			conversionID: cfg.Setting("conversion_identifier"),
		}
		if s.endpoint == "" {
			s.endpoint = rdStationURL
		}
		if s.conversionID == "" {
			s.conversionID = rdDefaultConversionID
		}
		return s, nil
	}
}

func (s *RDStationSink) Name() string { return SinkRDStation }

type rdConversion struct {
	EventType   string            `json:"event_type"`
	EventFamily string            `json:"event_family"`
	Payload     rdConversionField `json:"payload"`
}

type rdConversionField struct {
	ConversionIdentifier string  `json:"conversion_identifier"`
	Email                string  `json:"email"`
	Name                 string  `json:"name"`
	MobilePhone          string  `json:"mobile_phone"`
	Company              *string `json:"cf_empresa,omitempty"`
	Role                 *string `json:"cf_cargo,omitempty"`
	Interest             *string `json:"cf_interesse,omitempty"`
	Budget               *string `json:"cf_orcamento,omitempty"`
	Urgency              *string `json:"cf_urgencia,omitempty"`
	Status               string  `json:"cf_status"`
	Origin               string  `json:"cf_origem"`
}

func (s *RDStationSink) Send(ctx context.Context, job Job) SinkResult {
	data := job.Snapshot.Data
	payload := rdConversion{
		EventType:   "CONVERSION",
		EventFamily: "CDP",
		Payload: rdConversionField{
			ConversionIdentifier: s.conversionID,
			Email:                leadEmail(job),
			Name:                 data.Name,
			MobilePhone:          job.Snapshot.Phone,
			Company:              optional(data.Company),
			Role:                 optional(data.Role),
			Interest:             optional(data.Challenge),
			Budget:               optional(data.Budget),
			Urgency:              optional(data.Urgency),
			Status:               string(job.Snapshot.Status),
			Origin:               leadOrigin,
		},
	}
	resp, err := postJSON(ctx, s.client, s.endpoint, map[string]string{"Authorization": "Bearer " + s.apiKey}, payload)
	if err != nil {
		return failure(err, "")
	}
	if !resp.ok() {
		return failure(fmt.Errorf("rdstation: unexpected status %d", resp.status), resp.summary())
	}
	return success(resp.summary())
}

// PipedriveSink creates a person and then an open deal for it.
type PipedriveSink struct {
	client     *http.Client
	baseURL    string
	apiToken   string
	pipelineID *int
}

// NewPipedriveFactory builds Pipedrive sinks. Settings: api_token, optional
// api_url and pipeline_id.
func NewPipedriveFactory(client *http.Client) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		token, err := requireSetting(cfg, "api_token")
		if err != nil {
			return nil, err
		}
		s := &PipedriveSink{
			client:   client,
			baseURL:  strings.TrimRight(cfg.Setting("api_url"), "/"),
			apiToken: token,
		}
		if s.baseURL == "" {
			s.baseURL = pipedriveDefaultBaseURL
		}
		if raw := cfg.Setting("pipeline_id"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: pipedrive pipeline_id %q is not a number", ErrSinkConfig, raw)
			}
			s.pipelineID = &id
		}
		return s, nil
	}
}

func (s *PipedriveSink) Name() string { return SinkPipedrive }

type pipedriveValue struct {
	Value   string `json:"value"`
	Primary bool   `json:"primary"`
}

type pipedrivePerson struct {
	Name  string           `json:"name"`
	Phone []pipedriveValue `json:"phone"`
	Email []pipedriveValue `json:"email,omitempty"`
}

type pipedriveDeal struct {
	Title      string `json:"title"`
	PersonID   int64  `json:"person_id"`
	PipelineID *int   `json:"pipeline_id,omitempty"`
	Status     string `json:"status"`
}

type pipedriveCreated struct {
	Data struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func (s *PipedriveSink) endpoint(resource string) string {
	return s.baseURL + "/" + resource + "?api_token=" + url.QueryEscape(s.apiToken)
}

func (s *PipedriveSink) Send(ctx context.Context, job Job) SinkResult {
	data := job.Snapshot.Data
	person := pipedrivePerson{
		Name:  data.Name,
		Phone: []pipedriveValue{{Value: job.Snapshot.Phone, Primary: true}},
	}
	if email := data.Get("email"); email != "" {
		person.Email = []pipedriveValue{{Value: email, Primary: true}}
	}
	resp, err := postJSON(ctx, s.client, s.endpoint("persons"), nil, person)
	if err != nil {
		return failure(err, "")
	}
	if !resp.ok() {
		return failure(fmt.Errorf("pipedrive: create person: unexpected status %d", resp.status), resp.summary())
	}
	var created pipedriveCreated
	if err := json.Unmarshal(resp.body, &created); err != nil || created.Data.ID == 0 {
		return failure(fmt.Errorf("pipedrive: create person: missing id in response"), resp.summary())
	}

	deal := pipedriveDeal{
		Title:      fmt.Sprintf(pipedriveDefaultDealTitle, data.Name),
		PersonID:   created.Data.ID,
		PipelineID: s.pipelineID,
		Status:     "open",
	}
	resp, err = postJSON(ctx, s.client, s.endpoint("deals"), nil, deal)
	if err != nil {
		return failure(err, fmt.Sprintf("person_id=%d", created.Data.ID))
	}
	if !resp.ok() {
		return failure(fmt.Errorf("pipedrive: create deal: unexpected status %d", resp.status),
			fmt.Sprintf("person_id=%d %s", created.Data.ID, resp.summary()))
	}
	return success(fmt.Sprintf("person_id=%d %s", created.Data.ID, resp.summary()))
}
