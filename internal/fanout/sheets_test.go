package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/wolfman30/sdr-agent-platform/internal/leads"
)

func TestSheetsSink_AppendsRow(t *testing.T) {
	var body struct {
		Values [][]any `json:"values"`
	}
	var path, inputOption string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		inputOption = r.URL.Query().Get("valueInputOption")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1","updates":{"updatedRange":"Leads!A2:I2","updatedRows":1}}`))
	}))
	defer srv.Close()

	svc, err := sheets.NewService(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	sink := buildSink(t, NewSheetsFactory(svc), map[string]string{"spreadsheet_id": "sheet-1", "timezone": "America/Sao_Paulo"}).(*SheetsSink)
	sink.now = func() time.Time { return time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC) }

	res := sink.Send(context.Background(), testJob(leads.StatusQualified, leads.StatusInProgress))

	require.Equal(t, StatusSuccess, res.Status, res.Error())
	assert.Equal(t, "appended Leads!A2:I2", res.Response)
	assert.True(t, strings.HasPrefix(path, "/v4/spreadsheets/sheet-1/values/"), path)
	assert.Equal(t, "USER_ENTERED", inputOption)
	require.Len(t, body.Values, 1)
	row := body.Values[0]
	require.Len(t, row, len(SheetHeader))
	assert.Equal(t, "04/05/2026 12:30", row[0])
	assert.Equal(t, "Ana", row[1])
	assert.Equal(t, "5511999990000", row[2])
	assert.Equal(t, "qualified", row[5])
	assert.Equal(t, leadOrigin, row[7])
}

func TestSheetsSink_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission"}}`))
	}))
	defer srv.Close()

	svc, err := sheets.NewService(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	sink := buildSink(t, NewSheetsFactory(svc), map[string]string{"spreadsheet_id": "sheet-1"})
	res := sink.Send(context.Background(), testJob(leads.StatusQualified, leads.StatusInProgress))

	assert.Equal(t, StatusFailure, res.Status)
	assert.Contains(t, res.Error(), "permission")
}

func TestSheetsFactory_BadTimezone(t *testing.T) {
	_, err := NewSheetsFactory(nil)(nil, tenancySinkConfig(SinkSheets, map[string]string{"spreadsheet_id": "x", "timezone": "Mars/Base"}))
	assert.ErrorIs(t, err, ErrSinkConfig)
}
