// README: Google Sheets ledger; one tab per bucket, column A holds the order code.
package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/sheets/v4"

	"restaurantbot/internal/modules/order"
)

type SheetsConfig struct {
	SpreadsheetID string
	Tabs          map[string]string
	RatePerSecond float64
	Burst         int
}

type Sheets struct {
	svc     *sheets.Service
	id      string
	tabs    map[order.Bucket]string
	limiter *rate.Limiter
	log     zerolog.Logger

	// rows is held from a row lookup until the write or delete that uses its index.
	rows sync.Mutex

	mu       sync.Mutex
	sheetIDs map[string]int64
}

func NewSheets(svc *sheets.Service, cfg SheetsConfig, log zerolog.Logger) *Sheets {
	tabs := make(map[order.Bucket]string, len(order.Buckets))
	for _, b := range order.Buckets {
		if name := cfg.Tabs[string(b)]; name != "" {
			tabs[b] = name
		}
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Sheets{
		svc:      svc,
		id:       cfg.SpreadsheetID,
		tabs:     tabs,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      log.With().Str("component", "sheets").Logger(),
		sheetIDs: make(map[string]int64),
	}
}

func (s *Sheets) tab(bucket order.Bucket) (string, error) {
	name, ok := s.tabs[bucket]
	if !ok {
		return "", fmt.Errorf("no tab configured for bucket %q", bucket)
	}
	return name, nil
}

func a1(tab, cells string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + cells
}

// find scans column A and returns the 1-based sheet row holding code, or 0.
func (s *Sheets) find(ctx context.Context, tab, code string) (int, *Row, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, a1(tab, "A:"+lastColumn)).Context(ctx).Do()
	if err != nil {
		return 0, nil, err
	}
	for i, vals := range resp.Values {
		if i == 0 || len(vals) == 0 {
			continue
		}
		if fmt.Sprint(vals[0]) == code {
			row := RowFromValues(vals)
			return i + 1, &row, nil
		}
	}
	return 0, nil, nil
}

func (s *Sheets) FindRow(ctx context.Context, bucket order.Bucket, code string) (*Row, error) {
	tab, err := s.tab(bucket)
	if err != nil {
		return nil, err
	}
	_, row, err := s.find(ctx, tab, code)
	return row, err
}

func (s *Sheets) UpsertRow(ctx context.Context, bucket order.Bucket, code string, row Row) (bool, error) {
	tab, err := s.tab(bucket)
	if err != nil {
		return false, err
	}
	row.Code = code
	s.rows.Lock()
	defer s.rows.Unlock()
	idx, _, err := s.find(ctx, tab, code)
	if err != nil {
		return false, err
	}
	vr := &sheets.ValueRange{Values: [][]any{row.Values()}}

	appended := idx == 0
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	if appended {
		resp, err := s.svc.Spreadsheets.Values.Append(s.id, a1(tab, "A:"+lastColumn), vr).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return false, err
		}
		if resp.Updates != nil {
			idx = rowFromRange(resp.Updates.UpdatedRange)
		}
	} else {
		cells := fmt.Sprintf("A%d:%s%d", idx, lastColumn, idx)
		if _, err := s.svc.Spreadsheets.Values.Update(s.id, a1(tab, cells), vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return false, err
		}
	}

	if idx > 0 {
		if err := s.colour(ctx, tab, idx, order.Status(row.Status)); err != nil {
			s.log.Debug().Err(err).Str("order_code", code).Msg("row colouring skipped")
		}
	}
	return appended, nil
}

func (s *Sheets) MoveRow(ctx context.Context, from, to order.Bucket, code string) (bool, error) {
	fromTab, err := s.tab(from)
	if err != nil {
		return false, err
	}
	toTab, err := s.tab(to)
	if err != nil {
		return false, err
	}
	s.rows.Lock()
	defer s.rows.Unlock()
	srcIdx, row, err := s.find(ctx, fromTab, code)
	if err != nil || srcIdx == 0 {
		return false, err
	}
	dstIdx, _, err := s.find(ctx, toTab, code)
	if err != nil {
		return false, err
	}
	if dstIdx == 0 {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, err
		}
		vr := &sheets.ValueRange{Values: [][]any{row.Values()}}
		if _, err := s.svc.Spreadsheets.Values.Append(s.id, a1(toTab, "A:"+lastColumn), vr).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
			return false, err
		}
	}
	if err := s.deleteRow(ctx, fromTab, srcIdx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Sheets) DeleteRow(ctx context.Context, bucket order.Bucket, code string) (bool, error) {
	tab, err := s.tab(bucket)
	if err != nil {
		return false, err
	}
	s.rows.Lock()
	defer s.rows.Unlock()
	removed := false
	for {
		idx, _, err := s.find(ctx, tab, code)
		if err != nil || idx == 0 {
			return removed, err
		}
		if err := s.deleteRow(ctx, tab, idx); err != nil {
			return removed, err
		}
		removed = true
	}
}

func (s *Sheets) deleteRow(ctx context.Context, tab string, idx int) error {
	sheetID, err := s.sheetID(ctx, tab)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		DeleteDimension: &sheets.DeleteDimensionRequest{Range: &sheets.DimensionRange{
			SheetId:    sheetID,
			Dimension:  "ROWS",
			StartIndex: int64(idx - 1),
			EndIndex:   int64(idx),
		}},
	}}}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
	return err
}

func (s *Sheets) colour(ctx context.Context, tab string, idx int, status order.Status) error {
	sheetID, err := s.sheetID(ctx, tab)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    int64(idx - 1),
				EndRowIndex:      int64(idx),
				StartColumnIndex: 0,
				EndColumnIndex:   int64(len(Header)),
			},
			Cell:   &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{BackgroundColor: statusColour(status)}},
			Fields: "userEnteredFormat.backgroundColor",
		},
	}}}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
	return err
}

func (s *Sheets) sheetID(ctx context.Context, tab string) (int64, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[tab]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	ss, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			s.sheetIDs[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	id, ok = s.sheetIDs[tab]
	if !ok {
		return 0, fmt.Errorf("tab %q not found in spreadsheet", tab)
	}
	return id, nil
}

func statusColour(s order.Status) *sheets.Color {
	switch s {
	case order.StatusDelivered:
		return &sheets.Color{Red: 0.85, Green: 0.95, Blue: 0.85}
	case order.StatusCancelled:
		return &sheets.Color{Red: 0.98, Green: 0.85, Blue: 0.85}
	case order.StatusRefunded:
		return &sheets.Color{Red: 0.9, Green: 0.88, Blue: 0.98}
	case order.StatusRefundFailed:
		return &sheets.Color{Red: 1, Green: 0.7, Blue: 0.6}
	case order.StatusPending:
		return &sheets.Color{Red: 1, Green: 0.97, Blue: 0.8}
	}
	return &sheets.Color{Red: 1, Green: 1, Blue: 1}
}

var rangeRow = regexp.MustCompile(`![A-Z]+(\d+)`)

// rowFromRange extracts the first row number from an A1 range like 'New Orders'!A7:M7.
func rowFromRange(r string) int {
	m := rangeRow.FindStringSubmatch(r)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
