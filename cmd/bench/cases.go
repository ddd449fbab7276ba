// README: Smoke cases for placement, checkout, webhooks, admin races and load, plus DB/Redis checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"restaurantbot/internal/infra"
	"restaurantbot/internal/modules/payment"
	"restaurantbot/migrations"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// code of the COD order placed by the placement case; later cases build on it.
	placed string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func samplePlacement(phone string) map[string]any {
	return map[string]any{
		"customer": map[string]any{"phone": phone, "name": "Bench Customer"},
		"items": []map[string]any{
			{"name": "Veg Biryani", "category": "Rice", "unit_price": 22000, "quantity": 1},
			{"name": "Gulab Jamun", "category": "Dessert", "unit_price": 6000, "quantity": 2},
		},
		"service_type":   "delivery",
		"payment_method": "cod",
	}
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusFail, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return Result{Status: statusSkip, Note: "apply-migration=false"}
			}
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			if err := infra.Migrate(ctx, r.db); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: tables exist", Run: checkTables},

		httpCase("API: health", http.MethodGet, base+"/health", nil, "", http.StatusOK),

		{Name: "Order: place COD delivery", Run: func(ctx context.Context, r *Runner) Result {
			status, body, latency, err := r.do(ctx, http.MethodPost, base+"/api/orders", samplePlacement("9100000001"), "")
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if status != http.StatusCreated {
				return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
			}
			var out struct {
				Code  string `json:"code"`
				Total int64  `json:"total"`
			}
			if err := json.Unmarshal(body, &out); err != nil || out.Code == "" {
				return Result{Status: statusFail, Latency: latency, Note: "response has no order code"}
			}
			if out.Total != 34000 {
				return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("total=%d want 34000", out.Total)}
			}
			r.placed = out.Code
			return Result{Status: statusPass, Latency: latency, Note: out.Code}
		}},
		httpCase("Order: place missing fields -> 400", http.MethodPost, base+"/api/orders", map[string]any{}, "", http.StatusBadRequest),
		{Name: "Order: get placed order", Run: func(ctx context.Context, r *Runner) Result {
			if r.placed == "" {
				return Result{Status: statusSkip, Note: "no placed order"}
			}
			return r.expect(ctx, http.MethodGet, base+"/api/orders/"+r.placed, nil, "", http.StatusOK)
		}},
		httpCase("Order: unknown code -> 404", http.MethodGet, base+"/api/orders/ORD000101ZZZZ", nil, "", http.StatusNotFound),
		{Name: "Payment: intent for COD -> 409", Run: func(ctx context.Context, r *Runner) Result {
			if r.placed == "" {
				return Result{Status: statusSkip, Note: "no placed order"}
			}
			return r.expect(ctx, http.MethodPost, base+"/api/orders/"+r.placed+"/payment", nil, "", http.StatusConflict)
		}},
		httpCase("Payment: verify bad signature -> 400", http.MethodPost, base+"/api/payments/verify", map[string]any{
			"razorpay_order_id":   "order_bench",
			"razorpay_payment_id": "pay_bench",
			"razorpay_signature":  "deadbeef",
		}, "", http.StatusBadRequest),
		{Name: "Webhook: unsigned -> 400", Run: func(ctx context.Context, r *Runner) Result {
			return r.webhook(ctx, "bogus", http.StatusBadRequest)
		}},
		{Name: "Webhook: signed, unknown order acknowledged", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.WebhookSecret == "" {
				return Result{Status: statusSkip, Note: "webhook-secret not set"}
			}
			return r.webhook(ctx, payment.Sign(r.cfg.WebhookSecret, string(capturedWebhook)), http.StatusOK)
		}},
		{Name: "Admin: dashboard", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.AdminToken == "" {
				return Result{Status: statusSkip, Note: "admin-token not set"}
			}
			return r.expect(ctx, http.MethodGet, base+"/admin/dashboard", nil, r.cfg.AdminToken, http.StatusOK)
		}},
		{Name: "Concurrency: parallel confirm, one winner", Run: func(ctx context.Context, r *Runner) Result {
			return r.race(ctx, []string{"confirmed"})
		}},
		{Name: "Concurrency: deliver vs cancel, one winner", Run: func(ctx context.Context, r *Runner) Result {
			return r.race(ctx, []string{"confirmed"}, "delivered", "cancelled")
		}},
		{Name: "DB: tracking has one entry per status", Run: checkTracking},
		{Name: "Redis: refund due set readable", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not configured"}
			}
			n, err := r.redis.ZCard(ctx, "refunds:due").Result()
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass, Note: fmt.Sprintf("pending=%d", n)}
		}},
		{Name: "Perf: place order throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, base+"/api/orders")
		}},
	}
}

var capturedWebhook = []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_bench","order_id":"order_bench_unknown","method":"upi"}}}}`)

func (r *Runner) webhook(ctx context.Context, signature string, want int) Result {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/webhooks/razorpay", strings.NewReader(string(capturedWebhook)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Razorpay-Signature", signature)
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return judge(resp.StatusCode, time.Since(start), want)
}

// race places a fresh COD order, applies setup statuses, then fires concurrent
// status changes cycling through targets. Exactly one must succeed.
func (r *Runner) race(ctx context.Context, setup []string, targets ...string) Result {
	if r.cfg.AdminToken == "" {
		return Result{Status: statusSkip, Note: "admin-token not set"}
	}
	base := r.cfg.BaseURL
	status, body, _, err := r.do(ctx, http.MethodPost, base+"/api/orders", samplePlacement(fmt.Sprintf("92%08d", time.Now().UnixNano()%1e8)), "")
	if err != nil || status != http.StatusCreated {
		return Result{Status: statusFail, Note: fmt.Sprintf("place status=%d err=%v", status, err)}
	}
	var out struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(body, &out)
	statusURL := base + "/admin/orders/" + out.Code + "/status"
	if len(targets) == 0 {
		targets = setup
		setup = nil
	}
	for _, s := range setup {
		if st, _, _, err := r.do(ctx, http.MethodPost, statusURL, map[string]any{"status": s}, r.cfg.AdminToken); err != nil || st != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("setup %s status=%d", s, st)}
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		succ     int
		conflict int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, _, _, err := r.do(ctx, http.MethodPost, statusURL, map[string]any{"status": targets[i%len(targets)]}, r.cfg.AdminToken)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case st == http.StatusOK:
				succ++
			case st == http.StatusConflict:
				conflict++
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("order=%s success=%d conflict=%d", out.Code, succ, conflict)
	if succ == 1 {
		return Result{Status: statusPass, Note: note}
	}
	return Result{Status: statusFail, Note: note}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	tables, err := migrationTables()
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: strings.Join(tables, ",")}
}

func checkTracking(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	var dupes int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT o.code, t->>'status'
			FROM orders o, jsonb_array_elements(o.tracking) t
			GROUP BY o.code, t->>'status'
			HAVING COUNT(*) > 1
		) d`).Scan(&dupes)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if dupes > 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("%d duplicated tracking entries", dupes)}
	}
	return Result{Status: statusPass}
}

func (r *Runner) do(ctx context.Context, method, url string, body any, token string) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, time.Since(start), err
}

func (r *Runner) expect(ctx context.Context, method, url string, body any, token string, want ...int) Result {
	status, _, latency, err := r.do(ctx, method, url, body, token)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return judge(status, latency, want...)
}

func judge(status int, latency time.Duration, want ...int) Result {
	for _, w := range want {
		if status == w {
			return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		}
	}
	return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func httpCase(name, method, url string, body any, token string, want ...int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, method, url, body, token, want...)
		},
	}
}

func perfLoad(ctx context.Context, r *Runner, url string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count, errCount int64
		mu              sync.Mutex
		wg              sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for n := 0; time.Now().Before(end) && ctx.Err() == nil; n++ {
				phone := fmt.Sprintf("93%04d%04d", worker, n%10000)
				status, _, _, err := r.do(ctx, http.MethodPost, url, samplePlacement(phone), "")
				mu.Lock()
				if err != nil || status != http.StatusCreated {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no orders placed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

var createTable = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func migrationTables() ([]string, error) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTable.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
