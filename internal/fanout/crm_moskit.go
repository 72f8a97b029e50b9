package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

const moskitDefaultBaseURL = "https://api.moskit.com.br/v2"

// MoskitSink creates a contact and then a deal linked to it.
type MoskitSink struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	pipelineID *int64
}

// NewMoskitFactory builds Moskit sinks. Settings: api_key, optional
// pipeline_id and api_url.
func NewMoskitFactory(client *http.Client) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		key, err := requireSetting(cfg, "api_key")
		if err != nil {
			return nil, err
		}
		s := &MoskitSink{
			client:  client,
			baseURL: strings.TrimRight(cfg.Setting("api_url"), "/"),
			apiKey:  key,
		}
		if s.baseURL == "" {
			s.baseURL = moskitDefaultBaseURL
		}
		if raw := cfg.Setting("pipeline_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: moskit pipeline_id %q is not a number", ErrSinkConfig, raw)
			}
			s.pipelineID = &id
		}
		return s, nil
	}
}

func (s *MoskitSink) Name() string { return SinkMoskit }

type moskitPhone struct {
	Number string `json:"number"`
}

type moskitEmail struct {
	Address string `json:"address"`
}

type moskitContact struct {
	Name   string        `json:"name"`
	Phones []moskitPhone `json:"phones"`
	Emails []moskitEmail `json:"emails"`
}

type moskitDeal struct {
	Name       string `json:"name"`
	ContactID  int64  `json:"contact_id"`
	PipelineID *int64 `json:"pipeline_id,omitempty"`
}

func (s *MoskitSink) Send(ctx context.Context, job Job) SinkResult {
	data := job.Snapshot.Data
	headers := map[string]string{"Authorization": "Bearer " + s.apiKey}
	contact := moskitContact{
		Name:   data.Name,
		Phones: []moskitPhone{{Number: job.Snapshot.Phone}},
		Emails: []moskitEmail{},
	}
	if email := data.Get("email"); email != "" {
		contact.Emails = append(contact.Emails, moskitEmail{Address: email})
	}
	resp, err := postJSON(ctx, s.client, s.baseURL+"/contacts", headers, contact)
	if err != nil {
		return failure(err, "")
	}
	if !resp.ok() {
		return failure(fmt.Errorf("moskit: create contact: unexpected status %d", resp.status), resp.summary())
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil || created.ID == 0 {
		return failure(fmt.Errorf("moskit: create contact: missing id in response"), resp.summary())
	}

	deal := moskitDeal{
		Name:       fmt.Sprintf(pipedriveDefaultDealTitle, data.Name),
		ContactID:  created.ID,
		PipelineID: s.pipelineID,
	}
	resp, err = postJSON(ctx, s.client, s.baseURL+"/deals", headers, deal)
	if err != nil {
		return failure(err, fmt.Sprintf("contact_id=%d", created.ID))
	}
	if !resp.ok() {
		return failure(fmt.Errorf("moskit: create deal: unexpected status %d", resp.status),
			fmt.Sprintf("contact_id=%d %s", created.ID, resp.summary()))
	}
	return success(fmt.Sprintf("contact_id=%d %s", created.ID, resp.summary()))
}
