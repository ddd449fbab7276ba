package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurantbot/internal/http/handlers"
	"restaurantbot/internal/modules/customer"
	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/modules/payment"
	"restaurantbot/internal/modules/stats"
	"restaurantbot/internal/types"
)

const testCode = "ORD260105K7QZ"

type fakeOrders struct {
	placed   *order.PlaceCommand
	webhooks []order.PaymentWebhook
	events   []order.Event
	err      error
	order    *order.Order
}

func (f *fakeOrders) PlaceOrder(_ context.Context, cmd order.PlaceCommand) (*order.Order, error) {
	f.placed = &cmd
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func (f *fakeOrders) Get(context.Context, string) (*order.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func (f *fakeOrders) CreatePaymentIntent(context.Context, string) (payment.Intent, error) {
	if f.err != nil {
		return payment.Intent{}, f.err
	}
	return payment.Intent{GatewayOrderID: "order_1", Amount: f.order.Total, Currency: "INR", Receipt: f.order.Code}, nil
}

func (f *fakeOrders) VerifyPayment(context.Context, order.VerifyCommand) (*order.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) HandleWebhook(_ context.Context, ev order.PaymentWebhook) (*order.Order, error) {
	f.webhooks = append(f.webhooks, ev)
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func (f *fakeOrders) ListActive(context.Context, int) ([]order.Order, error) {
	return []order.Order{*f.order}, f.err
}

func (f *fakeOrders) ListByStatus(context.Context, order.Status) ([]order.Order, error) {
	return []order.Order{*f.order}, f.err
}

func (f *fakeOrders) ApplyTransition(_ context.Context, _ string, ev order.Event) (*order.Order, []order.Effect, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.order, nil, nil
}

type fakeVerifier struct{ ok bool }

func (v fakeVerifier) VerifyWebhook([]byte, string) bool { return v.ok }

func sampleOrder() *order.Order {
	return &order.Order{
		Code:        testCode,
		Customer:    order.Customer{Phone: "9000000001", Name: "Asha"},
		Items:       []order.LineItem{{Name: "Paneer Tikka", UnitPrice: 24950, Quantity: 2}},
		Total:       49900,
		ServiceType: order.ServiceDelivery,
		Status:      order.StatusPending,
		Payment:     order.Payment{Status: order.PaymentPending, Method: order.MethodUPI},
		Refund:      order.Refund{Status: order.RefundNone},
	}
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func do(r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPlaceOrder(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder()}
	r := newEngine()
	r.POST("/api/orders", handlers.NewOrderHandler(svc).Place)

	w := do(r, http.MethodPost, "/api/orders", map[string]any{
		"customer":       map[string]any{"phone": "9000000001", "name": "Asha"},
		"items":          []map[string]any{{"name": "Paneer Tikka", "unit_price": 24950, "quantity": 2}},
		"service_type":   "delivery",
		"payment_method": "upi",
	}, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, svc.placed)
	assert.Equal(t, types.Money(24950), svc.placed.Items[0].UnitPrice)
	assert.Equal(t, order.ServiceDelivery, svc.placed.ServiceType)
	assert.Equal(t, order.MethodUPI, svc.placed.Method)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, testCode, body["code"])
	assert.Equal(t, "499.00", body["total_display"])
}

func TestPlaceOrder_ValidationMapsTo400(t *testing.T) {
	svc := &fakeOrders{err: order.ErrBadRequest}
	r := newEngine()
	r.POST("/api/orders", handlers.NewOrderHandler(svc).Place)

	w := do(r, http.MethodPost, "/api/orders", map[string]any{"items": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/orders", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrder_ErrorMapping(t *testing.T) {
	r := newEngine()
	svc := &fakeOrders{err: order.ErrNotFound}
	r.GET("/api/orders/:code", handlers.NewOrderHandler(svc).Get)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/orders/"+testCode, nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/orders/bad%20code", nil, nil).Code)
}

func TestCreateIntent_InvalidStateIsConflict(t *testing.T) {
	r := newEngine()
	svc := &fakeOrders{order: sampleOrder(), err: order.ErrInvalidTransition}
	r.POST("/api/orders/:code/payment", handlers.NewOrderHandler(svc).CreateIntent)

	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/orders/"+testCode+"/payment", nil, nil).Code)
}

func webhookRouter(svc *fakeOrders, ok bool) *gin.Engine {
	r := newEngine()
	r.POST("/webhooks/razorpay", handlers.NewWebhookHandler(fakeVerifier{ok: ok}, svc, zerolog.Nop()).Razorpay)
	return r
}

func capturedBody() []byte {
	return []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","method":"card"}}}}`)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder()}
	w := do(webhookRouter(svc, false), http.MethodPost, "/webhooks/razorpay", capturedBody(), map[string]string{"X-Razorpay-Signature": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.webhooks)
}

func TestWebhook_CapturedIsApplied(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder()}
	w := do(webhookRouter(svc, true), http.MethodPost, "/webhooks/razorpay", capturedBody(), map[string]string{"X-Razorpay-Signature": "sig"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.webhooks, 1)
	assert.Equal(t, order.PaymentWebhook{
		Kind:           order.WebhookCaptured,
		GatewayOrderID: "order_1",
		PaymentRef:     "pay_1",
		Method:         order.MethodCard,
	}, svc.webhooks[0])
}

func TestWebhook_ReplayIsAcknowledged(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder(), err: order.ErrInvalidTransition}
	w := do(webhookRouter(svc, true), http.MethodPost, "/webhooks/razorpay", capturedBody(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}

func TestWebhook_UnhandledEventIgnored(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder()}
	w := do(webhookRouter(svc, true), http.MethodPost, "/webhooks/razorpay", []byte(`{"event":"order.paid"}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.webhooks)
}

type fakeResync struct {
	status order.Status
	bucket order.Bucket
}

func (f *fakeResync) ResyncStatus(_ context.Context, status order.Status, bucket order.Bucket) (int, error) {
	f.status, f.bucket = status, bucket
	return 3, nil
}

func adminRouter(svc *fakeOrders, resync *fakeResync) *gin.Engine {
	r := newEngine()
	h := handlers.NewAdminHandler(svc, resync, nil)
	r.GET("/admin/orders", h.List)
	r.POST("/admin/orders/:code/status", h.UpdateStatus)
	r.POST("/admin/orders/:code/assign", h.Assign)
	r.POST("/admin/orders/:code/refund/approve", h.ApproveRefund)
	r.POST("/admin/orders/:code/refund/reject", h.RejectRefund)
	r.GET("/admin/refunds/pending", h.PendingRefunds)
	r.POST("/admin/ledger/resync", h.ResyncLedger)
	return r
}

func TestAdmin_StatusChange(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder()}
	r := adminRouter(svc, &fakeResync{})

	w := do(r, http.MethodPost, "/admin/orders/"+testCode+"/status", map[string]string{"status": "cancelled", "reason": "out of stock"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.events, 1)
	ev, ok := svc.events[0].(order.AdminStatusChange)
	require.True(t, ok)
	assert.Equal(t, order.StatusCancelled, ev.Target)
	assert.Equal(t, "out of stock", ev.Reason)

	w = do(r, http.MethodPost, "/admin/orders/"+testCode+"/status", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_InvalidTransitionIsConflict(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder(), err: order.ErrInvalidTransition}
	r := adminRouter(svc, &fakeResync{})
	w := do(r, http.MethodPost, "/admin/orders/"+testCode+"/refund/approve", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, svc.events, 1)
	assert.IsType(t, order.RefundApproved{}, svc.events[0])
}

func TestAdmin_RejectRefundCarriesReason(t *testing.T) {
	svc := &fakeOrders{order: sampleOrder()}
	r := adminRouter(svc, &fakeResync{})
	w := do(r, http.MethodPost, "/admin/orders/"+testCode+"/refund/reject", map[string]string{"reason": "consumed"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.RefundRejected{Reason: "consumed"}, svc.events[0])
}

func TestAdmin_ResyncLedger(t *testing.T) {
	resync := &fakeResync{}
	r := adminRouter(&fakeOrders{order: sampleOrder()}, resync)

	w := do(r, http.MethodPost, "/admin/ledger/resync", map[string]string{"status": "cancelled", "bucket": "cancelled"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusCancelled, resync.status)
	assert.Equal(t, order.BucketCancelled, resync.bucket)
	assert.JSONEq(t, `{"synced":3}`, w.Body.String())

	w = do(r, http.MethodPost, "/admin/ledger/resync", map[string]string{"status": "cancelled", "bucket": "archive"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_PendingRefundsWithoutScheduler(t *testing.T) {
	r := adminRouter(&fakeOrders{order: sampleOrder()}, &fakeResync{})
	w := do(r, http.MethodGet, "/admin/refunds/pending", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"refunds":[]}`, w.Body.String())
}

type fakeStats struct {
	from, to    string
	newCustomer int
}

func (f *fakeStats) GetDashboard(context.Context) (stats.Dashboard, error) {
	return stats.Dashboard{Combined: stats.Totals{Orders: 4, Revenue: 74000}}, nil
}

func (f *fakeStats) ReportHistory(_ context.Context, from, to string) ([]stats.Report, error) {
	f.from, f.to = from, to
	return []stats.Report{{Day: "2026-01-05", TotalOrders: 4}}, nil
}

func (f *fakeStats) RecordNewCustomer(context.Context) error {
	f.newCustomer++
	return nil
}

func TestDashboard(t *testing.T) {
	st := &fakeStats{}
	r := newEngine()
	h := handlers.NewDashboardHandler(st, nil)
	r.GET("/admin/dashboard", h.Get)
	r.GET("/admin/reports", h.Reports)
	r.GET("/admin/stream", h.Stream)

	w := do(r, http.MethodGet, "/admin/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"combined":{"orders":4,"revenue":74000`)

	w = do(r, http.MethodGet, "/admin/reports?from=2026-01-01&to=2026-01-07", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-01-01", st.from)
	assert.Equal(t, "2026-01-07", st.to)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/admin/reports?from=05-01-2026", nil, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/admin/stream", nil, nil).Code)
}

type fakeCustomers struct {
	created bool
}

func (f *fakeCustomers) Register(context.Context, order.Customer) (bool, error) {
	return f.created, nil
}

func (f *fakeCustomers) Get(context.Context, string) (*customer.Profile, error) {
	return nil, customer.ErrNotFound
}

func TestCustomerRegister(t *testing.T) {
	st := &fakeStats{}
	r := newEngine()
	h := handlers.NewCustomerHandler(&fakeCustomers{created: true}, st)
	r.POST("/api/customers", h.Register)
	r.GET("/api/customers/:phone", h.Get)

	w := do(r, http.MethodPost, "/api/customers", map[string]string{"phone": "9000000002", "name": "Ravi"}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, st.newCustomer)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/customers", map[string]string{"name": "x"}, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/customers/9000000002", nil, nil).Code)
}
