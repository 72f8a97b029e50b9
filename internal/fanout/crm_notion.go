package fanout

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

const (
	notionDefaultBaseURL = "https://api.notion.com/v1"
	notionVersion        = "2022-06-28"
	notionNewLeadStatus  = "Novo Lead"
)

// NotionSink adds the lead as a page in a Notion database whose columns are
// Nome, Telefone, Email, Empresa, Interesse, Status and Origem.
type NotionSink struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	databaseID string
}

// NewNotionFactory builds Notion sinks. Settings: api_key, database_id,
// optional api_url.
func NewNotionFactory(client *http.Client) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		key, err := requireSetting(cfg, "api_key")
		if err != nil {
			return nil, err
		}
		db, err := requireSetting(cfg, "database_id")
		if err != nil {
			return nil, err
		}
		s := &NotionSink{
			client:     client,
			baseURL:    strings.TrimRight(cfg.Setting("api_url"), "/"),
			apiKey:     key,
			databaseID: db,
		}
		if s.baseURL == "" {
			s.baseURL = notionDefaultBaseURL
		}
		return s, nil
	}
}

func (s *NotionSink) Name() string { return SinkNotion }

func notionText(v string) map[string]any {
	return map[string]any{"rich_text": []map[string]any{{"text": map[string]string{"content": v}}}}
}

func (s *NotionSink) Send(ctx context.Context, job Job) SinkResult {
	data := job.Snapshot.Data
	props := map[string]any{
		"Nome":      map[string]any{"title": []map[string]any{{"text": map[string]string{"content": data.Name}}}},
		"Telefone":  map[string]any{"phone_number": job.Snapshot.Phone},
		"Empresa":   notionText(data.Company),
		"Interesse": notionText(data.Challenge),
		"Status":    map[string]any{"select": map[string]string{"name": notionNewLeadStatus}},
		"Origem":    map[string]any{"select": map[string]string{"name": leadOrigin}},
	}
	if email := data.Get("email"); email != "" {
		props["Email"] = map[string]any{"email": email}
	}
	payload := map[string]any{
		"parent":     map[string]string{"database_id": s.databaseID},
		"properties": props,
	}
	headers := map[string]string{
		"Authorization":  "Bearer " + s.apiKey,
		"Notion-Version": notionVersion,
	}
	resp, err := postJSON(ctx, s.client, s.baseURL+"/pages", headers, payload)
	if err != nil {
		return failure(err, "")
	}
	if !resp.ok() {
		return failure(fmt.Errorf("notion: unexpected status %d", resp.status), resp.summary())
	}
	return success(resp.summary())
}
