package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"
)

const (
	maxResponseBytes = 64 << 10
	leadOrigin       = "WhatsApp SDR Agent"
)

// DefaultHTTPClient is shared by the HTTP sinks. The dispatcher's per-sink
// timeout is the effective bound; this one only guards stray calls.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

type httpResponse struct {
	status int
	body   []byte
}

func (r httpResponse) ok() bool {
	return r.status == http.StatusOK || r.status == http.StatusCreated
}

func (r httpResponse) summary() string {
	return fmt.Sprintf("%d %s", r.status, truncate(string(bytes.TrimSpace(r.body)), 500))
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) (httpResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return httpResponse{}, fmt.Errorf("fanout: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return httpResponse{}, fmt.Errorf("fanout: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		// query strings may carry api tokens
		var urlErr *neturl.Error
		if errors.As(err, &urlErr) {
			if i := strings.IndexByte(urlErr.URL, '?'); i >= 0 {
				urlErr.URL = urlErr.URL[:i]
			}
		}
		return httpResponse{}, fmt.Errorf("fanout: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return httpResponse{status: resp.StatusCode}, fmt.Errorf("fanout: read response: %w", err)
	}
	return httpResponse{status: resp.StatusCode, body: data}, nil
}

// leadEmail returns the lead's email or a stable placeholder CRMs accept as identity.
func leadEmail(job Job) string {
	if email := job.Snapshot.Data.Get("email"); email != "" {
		return email
	}
	return job.Snapshot.Phone + "@whatsapp.lead"
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
