package fanout

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/sheets/v4"

	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
)

const (
	defaultSheetName = "Leads"
	sheetTimeLayout  = "02/01/2006 15:04"
)

// SheetHeader is the column layout every lead row follows.
var SheetHeader = []string{"Timestamp", "Name", "Phone", "Email", "Company", "Status", "Score", "Origin", "Notes"}

// SheetsSink appends one row per job to a tenant spreadsheet.
type SheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	now           func() time.Time
}

// NewSheetsFactory builds sheet sinks. Settings: spreadsheet_id, optional sheet and timezone.
func NewSheetsFactory(svc *sheets.Service) Factory {
	return func(_ *tenancy.Tenant, cfg tenancy.SinkConfig) (Sink, error) {
		id, err := requireSetting(cfg, "spreadsheet_id")
		if err != nil {
			return nil, err
		}
		s := &SheetsSink{
			svc:           svc,
			spreadsheetID: id,
			sheetName:     cfg.Setting("sheet"),
			loc:           time.UTC,
			now:           time.Now,
		}
		if s.sheetName == "" {
			s.sheetName = defaultSheetName
		}
		if tz := cfg.Setting("timezone"); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("%w: sheets timezone %q: %v", ErrSinkConfig, tz, err)
			}
			s.loc = loc
		}
		return s, nil
	}
}

func (s *SheetsSink) Name() string { return SinkSheets }

// SheetRow renders the lead in SheetHeader order.
func SheetRow(job Job, at time.Time) []interface{} {
	data := job.Snapshot.Data
	return []interface{}{
		at.Format(sheetTimeLayout),
		data.Name,
		job.Snapshot.Phone,
		data.Get("email"),
		data.Company,
		string(job.Snapshot.Status),
		data.Get("score"),
		leadOrigin,
		data.Challenge,
	}
}

func (s *SheetsSink) Send(ctx context.Context, job Job) SinkResult {
	row := SheetRow(job, s.now().In(s.loc))
	resp, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, s.sheetName+"!A1", &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return failure(fmt.Errorf("sheets: append row: %w", err), "")
	}
	if resp.Updates != nil {
		return success("appended " + resp.Updates.UpdatedRange)
	}
	return success("appended")
}
