package fanout

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

const zohoDefaultBaseURL = "https://www.zohoapis.com/crm/v2"

// ZohoSink inserts the lead into the Zoho CRM Leads module.
type ZohoSink struct {
	client   *http.Client
	baseURL  string
	apiToken string
}

// NewZohoFactory builds Zoho sinks. Settings: api_token (an OAuth access
// token), optional api_url for non-US data centers.
func NewZohoFactory(client *http.Client) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		token, err := requireSetting(cfg, "api_token")
		if err != nil {
			return nil, err
		}
		s := &ZohoSink{
			client:   client,
			baseURL:  strings.TrimRight(cfg.Setting("api_url"), "/"),
			apiToken: token,
		}
		if s.baseURL == "" {
			s.baseURL = zohoDefaultBaseURL
		}
		return s, nil
	}
}

func (s *ZohoSink) Name() string { return SinkZoho }

type zohoLead struct {
	LastName    string  `json:"Last_Name"`
	Phone       string  `json:"Phone"`
	Email       *string `json:"Email,omitempty"`
	Company     *string `json:"Company,omitempty"`
	Designation *string `json:"Designation,omitempty"`
	LeadSource  string  `json:"Lead_Source"`
	Description string  `json:"Description"`
}

func (s *ZohoSink) Send(ctx context.Context, job Job) SinkResult {
	data := job.Snapshot.Data
	payload := map[string][]zohoLead{"data": {{
		LastName:    data.Name,
		Phone:       job.Snapshot.Phone,
		Email:       optional(data.Get("email")),
		Company:     optional(data.Company),
		Designation: optional(data.Role),
		LeadSource:  leadOrigin,
		Description: data.Challenge,
	}}}
	headers := map[string]string{"Authorization": "Zoho-oauthtoken " + s.apiToken}
	resp, err := postJSON(ctx, s.client, s.baseURL+"/Leads", headers, payload)
	if err != nil {
		return failure(err, "")
	}
	if !resp.ok() {
		return failure(fmt.Errorf("zoho: unexpected status %d", resp.status), resp.summary())
	}
	return success(resp.summary())
}
