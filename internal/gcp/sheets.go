package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ledgerColumns is the fixed column order of the ledger sheet.
var ledgerColumns = []interface{}{"fileId", "fileName", "processedAt", "property", "year", "copyId", "errorNote"}

// NewSheetsService creates a Sheets API client.
func NewSheetsService(ctx context.Context, opts ...option.ClientOption) (*sheets.Service, error) {
	opts = append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return svc, nil
}

// newSheetsLimiter paces calls to stay under the per-minute request quota.
func newSheetsLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// SheetsLedger is the spreadsheet-backed processed-files ledger. Row 1 holds
// the column headers.
type SheetsLedger struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	limiter       *rate.Limiter
}

// NewSheetsLedger returns a ledger writing to sheetName of spreadsheetID.
func NewSheetsLedger(svc *sheets.Service, spreadsheetID, sheetName string, requestsPerMinute int) *SheetsLedger {
	return &SheetsLedger{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		limiter:       newSheetsLimiter(requestsPerMinute),
	}
}

// LoadAll reads every ledger row below the header.
func (l *SheetsLedger) LoadAll(ctx context.Context) ([]models.LedgerEntry, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := l.svc.Spreadsheets.Values.Get(l.spreadsheetID, l.sheetName+"!A2:G").Context(ctx).Do()
	if err != nil {
		return nil, failure.Wrap("sheets.values.get", err)
	}
	entries := make([]models.LedgerEntry, 0, len(resp.Values))
	for _, row := range resp.Values {
		entry, ok := rowToEntry(row)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Append writes a single row.
func (l *SheetsLedger) Append(ctx context.Context, entry models.LedgerEntry) error {
	return l.AppendBatch(ctx, []models.LedgerEntry{entry})
}

// AppendBatch writes all rows in one values.append call. The call either
// lands every row or fails as a whole.
func (l *SheetsLedger) AppendBatch(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryToRow(e))
	}
	_, err := l.svc.Spreadsheets.Values.Append(l.spreadsheetID, l.sheetName+"!A:G", &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return failure.Wrap("sheets.values.append", err)
	}
	return nil
}

// EnsureHeader writes the column headers when the sheet is empty.
func (l *SheetsLedger) EnsureHeader(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := l.svc.Spreadsheets.Values.Get(l.spreadsheetID, l.sheetName+"!A1:G1").Context(ctx).Do()
	if err != nil {
		return failure.Wrap("sheets.values.get", err)
	}
	if len(resp.Values) > 0 {
		return nil
	}
	_, err = l.svc.Spreadsheets.Values.Update(l.spreadsheetID, l.sheetName+"!A1:G1", &sheets.ValueRange{
		Values: [][]interface{}{ledgerColumns},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return failure.Wrap("sheets.values.update", err)
	}
	return nil
}

func entryToRow(e models.LedgerEntry) []interface{} {
	return []interface{}{
		e.FileID,
		e.FileName,
		e.ProcessedAt.UTC().Format(time.RFC3339),
		e.Property,
		e.Year,
		e.CopyID,
		e.ErrorNote,
	}
}

func rowToEntry(row []interface{}) (models.LedgerEntry, bool) {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[i]))
	}
	entry := models.LedgerEntry{
		FileID:    cell(0),
		FileName:  cell(1),
		Property:  cell(3),
		Year:      cell(4),
		CopyID:    cell(5),
		ErrorNote: cell(6),
	}
	if entry.FileID == "" && entry.FileName == "" {
		return models.LedgerEntry{}, false
	}
	if ts, err := time.Parse(time.RFC3339, cell(2)); err == nil {
		entry.ProcessedAt = ts
	}
	return entry, true
}

// SheetsRegistry reads the property registry from a sheet range of
// (name, address) rows.
type SheetsRegistry struct {
	svc           *sheets.Service
	spreadsheetID string
	readRange     string
}

// NewSheetsRegistry returns a registry reader for readRange of spreadsheetID.
func NewSheetsRegistry(svc *sheets.Service, spreadsheetID, readRange string) *SheetsRegistry {
	return &SheetsRegistry{svc: svc, spreadsheetID: spreadsheetID, readRange: readRange}
}

// LoadProperties returns every registry row with a non-blank name.
func (r *SheetsRegistry) LoadProperties(ctx context.Context) ([]models.PropertyRecord, error) {
	resp, err := r.svc.Spreadsheets.Values.Get(r.spreadsheetID, r.readRange).Context(ctx).Do()
	if err != nil {
		return nil, failure.Wrap("sheets.values.get", err)
	}
	records := make([]models.PropertyRecord, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(fmt.Sprint(row[0]))
		if name == "" {
			continue
		}
		rec := models.PropertyRecord{Name: name}
		if len(row) > 1 {
			rec.Address = strings.TrimSpace(fmt.Sprint(row[1]))
		}
		records = append(records, rec)
	}
	return records, nil
}
