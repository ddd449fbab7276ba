package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"restaurantbot/internal/modules/order"
)

func sampleOrder(status order.Status) order.Order {
	placed := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)
	return order.Order{
		Code:        "ORD240310ABCD",
		Customer:    order.Customer{Phone: "+919800000001", Name: "Asha", Address: "12 MG Road"},
		Items:       []order.LineItem{{Name: "Paneer Tikka", UnitPrice: 25000, Quantity: 2}, {Name: "Lassi", UnitPrice: 8000, Quantity: 1}},
		Total:       58000,
		ServiceType: order.ServiceDelivery,
		Status:      status,
		Payment:     order.Payment{Status: order.PaymentPaid, Method: order.MethodUPI},
		Refund:      order.Refund{Status: order.RefundNone},
		CreatedAt:   placed,
		UpdatedAt:   placed.Add(time.Hour),
	}
}

func TestRowFromOrder(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	row := RowFromOrder(sampleOrder(order.StatusConfirmed), loc)

	assert.Equal(t, "ORD240310ABCD", row.Code)
	assert.Equal(t, "2024-03-10 12:00", row.PlacedAt)
	assert.Equal(t, "Paneer Tikka x2, Lassi x1", row.Items)
	assert.Equal(t, "580.00", row.Total)
	assert.Equal(t, "UPI", row.Method)
	assert.Equal(t, "confirmed", row.Status)
	assert.Len(t, row.Values(), len(Header))
	assert.Equal(t, row, RowFromValues(row.Values()))
}

func TestRowFromValuesToleratesShortRows(t *testing.T) {
	row := RowFromValues([]any{"ORD1", "2024-03-10 12:00"})
	assert.Equal(t, "ORD1", row.Code)
	assert.Empty(t, row.Status)
}

type fakeLoader struct {
	orders map[string]order.Order
	gets   int
}

func (f *fakeLoader) Get(_ context.Context, code string) (*order.Order, error) {
	f.gets++
	o, ok := f.orders[code]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (f *fakeLoader) ListByStatus(_ context.Context, s order.Status) ([]order.Order, error) {
	var out []order.Order
	for _, o := range f.orders {
		if o.Status == s {
			out = append(out, o)
		}
	}
	return out, nil
}

func TestSyncMovesBetweenBuckets(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := NewSyncer(mem, nil, time.UTC, zerolog.Nop())

	require.NoError(t, s.Sync(ctx, sampleOrder(order.StatusConfirmed), order.BucketNew))
	require.Len(t, mem.Rows(order.BucketNew), 1)

	delivered := sampleOrder(order.StatusDelivered)
	require.NoError(t, s.Sync(ctx, delivered, order.BucketDelivered))
	assert.Empty(t, mem.Rows(order.BucketNew))
	rows := mem.Rows(order.BucketDelivered)
	require.Len(t, rows, 1)
	assert.Equal(t, "delivered", rows[0].Status)
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := NewSyncer(mem, nil, time.UTC, zerolog.Nop())
	o := sampleOrder(order.StatusConfirmed)
	require.NoError(t, s.Sync(ctx, o, order.BucketNew))

	o.Status = order.StatusCancelled
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Sync(ctx, o, order.BucketCancelled))
	}
	assert.Len(t, mem.Rows(order.BucketCancelled), 1)
	assert.Empty(t, mem.Rows(order.BucketNew))
}

func TestSyncRemovesLeftoverSourceRow(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := NewSyncer(mem, nil, time.UTC, zerolog.Nop())
	o := sampleOrder(order.StatusDelivered)

	// an earlier move appended to the destination but never deleted the source
	_, err := mem.UpsertRow(ctx, order.BucketNew, o.Code, RowFromOrder(sampleOrder(order.StatusConfirmed), time.UTC))
	require.NoError(t, err)
	_, err = mem.UpsertRow(ctx, order.BucketDelivered, o.Code, RowFromOrder(o, time.UTC))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Sync(ctx, o, order.BucketDelivered))
		assert.Empty(t, mem.Rows(order.BucketNew))
		assert.Len(t, mem.Rows(order.BucketDelivered), 1)
	}
}

func TestSyncRebuildsMissingRowFromStore(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	stored := sampleOrder(order.StatusRefunded)
	stored.Payment.Status = order.PaymentRefunded
	loader := &fakeLoader{orders: map[string]order.Order{stored.Code: stored}}
	s := NewSyncer(mem, loader, time.UTC, zerolog.Nop())

	// a stale snapshot still lands with the store's latest state
	stale := sampleOrder(order.StatusCancelled)
	require.NoError(t, s.Sync(ctx, stale, order.BucketCancelled))

	rows := mem.Rows(order.BucketCancelled)
	require.Len(t, rows, 1)
	assert.Equal(t, "refunded", rows[0].Status)
	assert.Equal(t, 1, loader.gets)
}

type failingLedger struct{ *Memory }

func (f *failingLedger) UpsertRow(context.Context, order.Bucket, string, Row) (bool, error) {
	return false, errors.New("quota exceeded")
}

func TestSyncWrapsLedgerErrors(t *testing.T) {
	s := NewSyncer(&failingLedger{Memory: NewMemory()}, nil, time.UTC, zerolog.Nop())
	err := s.Sync(context.Background(), sampleOrder(order.StatusConfirmed), order.BucketNew)
	assert.ErrorIs(t, err, ErrLedgerSync)
}

func TestResyncStatus(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := sampleOrder(order.StatusCancelled)
	b := sampleOrder(order.StatusCancelled)
	b.Code = "ORD240310WXYZ"
	c := sampleOrder(order.StatusDelivered)
	c.Code = "ORD240310DLVR"
	loader := &fakeLoader{orders: map[string]order.Order{a.Code: a, b.Code: b, c.Code: c}}
	s := NewSyncer(mem, loader, time.UTC, zerolog.Nop())

	n, err := s.ResyncStatus(ctx, order.StatusCancelled, order.BucketCancelled)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, mem.Rows(order.BucketCancelled), 2)
	assert.Empty(t, mem.Rows(order.BucketDelivered))
}

func TestRowFromRange(t *testing.T) {
	assert.Equal(t, 7, rowFromRange("'New Orders'!A7:M7"))
	assert.Equal(t, 12, rowFromRange("Delivered!A12:M12"))
	assert.Zero(t, rowFromRange("garbage"))
}

func TestSheetsFindRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.True(t, strings.Contains(r.URL.Path, "/v4/spreadsheets/sheet-1/values/"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"range":          "'New Orders'!A1:M3",
			"majorDimension": "ROWS",
			"values": [][]string{
				Header,
				{"ORD240310AAAA", "2024-03-10 11:00"},
				{"ORD240310ABCD", "2024-03-10 12:00", "Asha"},
			},
		})
	}))
	defer srv.Close()

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	l := NewSheets(svc, SheetsConfig{
		SpreadsheetID: "sheet-1",
		Tabs:          map[string]string{"new": "New Orders"},
		RatePerSecond: 100,
		Burst:         10,
	}, zerolog.Nop())

	row, err := l.FindRow(context.Background(), order.BucketNew, "ORD240310ABCD")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Asha", row.Customer)

	row, err = l.FindRow(context.Background(), order.BucketNew, "ORD240310ZZZZ")
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = l.FindRow(context.Background(), order.BucketDelivered, "ORD240310ABCD")
	assert.Error(t, err, "unconfigured tab")
}

// fakeSpreadsheet serves the subset of the Sheets v4 API the ledger uses.
// Reads are slowed down so concurrent writers overlap.
type fakeSpreadsheet struct {
	mu   sync.Mutex
	ids  map[string]int64
	tabs map[string][][]any
}

func newFakeSpreadsheet(tabs ...string) *fakeSpreadsheet {
	f := &fakeSpreadsheet{ids: map[string]int64{}, tabs: map[string][][]any{}}
	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	for i, tab := range tabs {
		f.ids[tab] = int64(i + 1)
		f.tabs[tab] = [][]any{header}
	}
	return f
}

func tabOf(a1Range string) string {
	name := a1Range
	if i := strings.LastIndex(name, "!"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(strings.TrimPrefix(name, "'"), "'")
	return strings.ReplaceAll(name, "''", "'")
}

func (f *fakeSpreadsheet) codes(tab string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.tabs[tab][1:] {
		out = append(out, fmt.Sprint(r[0]))
	}
	sort.Strings(out)
	return out
}

func (f *fakeSpreadsheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1")
	switch {
	case path == "" && r.Method == http.MethodGet:
		f.mu.Lock()
		ss := &sheets.Spreadsheet{}
		for title, id := range f.ids {
			ss.Sheets = append(ss.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: title, SheetId: id}})
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(ss)

	case path == ":batchUpdate":
		var req sheets.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		for _, rq := range req.Requests {
			if rq.DeleteDimension == nil {
				continue
			}
			for tab, id := range f.ids {
				if id == rq.DeleteDimension.Range.SheetId {
					rows := f.tabs[tab]
					i := int(rq.DeleteDimension.Range.StartIndex)
					f.tabs[tab] = append(rows[:i:i], rows[i+1:]...)
				}
			}
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&sheets.BatchUpdateSpreadsheetResponse{})

	case strings.HasPrefix(path, "/values/") && strings.HasSuffix(path, ":append"):
		rng := strings.TrimSuffix(strings.TrimPrefix(path, "/values/"), ":append")
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		tab := tabOf(rng)
		f.mu.Lock()
		f.tabs[tab] = append(f.tabs[tab], vr.Values...)
		n := len(f.tabs[tab])
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: a1(tab, fmt.Sprintf("A%d:M%d", n, n))},
		})

	case strings.HasPrefix(path, "/values/") && r.Method == http.MethodPut:
		rng := strings.TrimPrefix(path, "/values/")
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		tab, idx := tabOf(rng), rowFromRange(rng)
		f.mu.Lock()
		f.tabs[tab][idx-1] = vr.Values[0]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&sheets.UpdateValuesResponse{UpdatedRange: rng})

	case strings.HasPrefix(path, "/values/"):
		tab := tabOf(strings.TrimPrefix(path, "/values/"))
		f.mu.Lock()
		vals := append([][]any(nil), f.tabs[tab]...)
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(&sheets.ValueRange{Range: a1(tab, "A:M"), MajorDimension: "ROWS", Values: vals})

	default:
		http.NotFound(w, r)
	}
}

func newFakeSheets(t *testing.T, f *fakeSpreadsheet) *Sheets {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewSheets(svc, SheetsConfig{
		SpreadsheetID: "sheet-1",
		Tabs:          map[string]string{"new": "New Orders", "delivered": "Delivered"},
		RatePerSecond: 1000,
		Burst:         100,
	}, zerolog.Nop())
}

func TestSheetsConcurrentMovesKeepRowsByCode(t *testing.T) {
	ctx := context.Background()
	f := newFakeSpreadsheet("New Orders", "Delivered")
	l := newFakeSheets(t, f)

	var codes []string
	for i := 0; i < 6; i++ {
		o := sampleOrder(order.StatusConfirmed)
		o.Code = fmt.Sprintf("ORD240310AAA%d", i)
		codes = append(codes, o.Code)
		_, err := l.UpsertRow(ctx, order.BucketNew, o.Code, RowFromOrder(o, time.UTC))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			moved, err := l.MoveRow(ctx, order.BucketNew, order.BucketDelivered, code)
			assert.NoError(t, err)
			assert.True(t, moved, code)
		}(code)
	}
	wg.Wait()

	assert.Empty(t, f.codes("New Orders"))
	assert.Equal(t, codes, f.codes("Delivered"))
}

func TestSheetsDeleteRowRemovesEveryCopy(t *testing.T) {
	ctx := context.Background()
	f := newFakeSpreadsheet("New Orders", "Delivered")
	l := newFakeSheets(t, f)
	o := sampleOrder(order.StatusConfirmed)
	other := sampleOrder(order.StatusConfirmed)
	other.Code = "ORD240310KEEP"

	f.mu.Lock()
	f.tabs["New Orders"] = append(f.tabs["New Orders"],
		RowFromOrder(o, time.UTC).Values(), RowFromOrder(other, time.UTC).Values(), RowFromOrder(o, time.UTC).Values())
	f.mu.Unlock()

	removed, err := l.DeleteRow(ctx, order.BucketNew, o.Code)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"ORD240310KEEP"}, f.codes("New Orders"))

	removed, err = l.DeleteRow(ctx, order.BucketNew, o.Code)
	require.NoError(t, err)
	assert.False(t, removed)
}
