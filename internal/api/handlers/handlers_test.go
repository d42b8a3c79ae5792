package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/scan-intel/backend/internal/esi"
	"github.com/scan-intel/backend/internal/middleware/validation"
	"github.com/scan-intel/backend/internal/scan"
	"github.com/scan-intel/backend/internal/scheduler"
	"github.com/scan-intel/backend/internal/storage/models"
	"github.com/scan-intel/backend/internal/storage/sqlite"
)

type fakeScanService struct {
	submitted string
	cached    bool
	err       error
}

func (f *fakeScanService) Submit(ctx context.Context, raw string) (*scan.Submission, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = raw
	return &scan.Submission{ID: "abc", Kind: scan.Detect(raw), Cached: f.cached}, nil
}

func (f *fakeScanService) Get(ctx context.Context, id string) (*scan.Submission, error) {
	if id != "abc" {
		return nil, sqlite.ErrScanNotFound
	}
	return &scan.Submission{ID: id, Kind: scan.KindLocal}, nil
}

func newScanApp(svc ScanService) *fiber.App {
	h := NewScanHandler(svc, nil)
	app := fiber.New()
	app.Post("/scans", validation.ScanMiddleware(validation.Config{MaxScanLength: 64}), h.Submit)
	app.Get("/scans/:id", h.Get)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return out
}

func TestScanHandler_Submit(t *testing.T) {
	svc := &fakeScanService{}
	app := newScanApp(svc)

	resp, body := postJSON(t, app, "/scans", `{"content":"587\tA\tRifter\t1 km"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	if body["kind"] != "directional" || body["id"] != "abc" {
		t.Errorf("unexpected body %v", body)
	}
	if svc.submitted != "587\tA\tRifter\t1 km" {
		t.Errorf("service got %q", svc.submitted)
	}
}

func TestScanHandler_CachedReturnsOK(t *testing.T) {
	app := newScanApp(&fakeScanService{cached: true})

	resp, _ := postJSON(t, app, "/scans", `{"content":"Alpha One"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status %d, want 200 for a cached report", resp.StatusCode)
	}
}

func TestScanHandler_Validation(t *testing.T) {
	app := newScanApp(&fakeScanService{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"content":`, fiber.StatusBadRequest},
		{"empty content", `{"content":"   "}`, fiber.StatusBadRequest},
		{"too long", `{"content":"` + strings.Repeat("x", 65) + `"}`, fiber.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, app, "/scans", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
		})
	}

	req := httptest.NewRequest("POST", "/scans", strings.NewReader("Alpha One"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnsupportedMediaType {
		t.Errorf("status %d, want 415", resp.StatusCode)
	}
}

func TestScanHandler_ServiceFailure(t *testing.T) {
	app := newScanApp(&fakeScanService{err: errors.New("disk full")})

	resp, body := postJSON(t, app, "/scans", `{"content":"Alpha One"}`)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("status %d, want 500", resp.StatusCode)
	}
	if strings.Contains(body["error"].(string), "disk") {
		t.Error("internal error leaked to the client")
	}
}

func TestScanHandler_Get(t *testing.T) {
	app := newScanApp(&fakeScanService{})

	resp, err := app.Test(httptest.NewRequest("GET", "/scans/abc", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status %d, want 200", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/scans/nope", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
}

type fakeTrigger struct {
	kinds []models.Kind
	busy  bool
}

func (f *fakeTrigger) Trigger(kind models.Kind) error {
	if f.busy {
		return scheduler.ErrBusy
	}
	f.kinds = append(f.kinds, kind)
	return nil
}

func TestSyncHandler_Trigger(t *testing.T) {
	trigger := &fakeTrigger{}
	app := fiber.New()
	app.Post("/sync/:kind", NewSyncHandler(trigger, nil).Trigger)

	resp, _ := postJSON(t, app, "/sync/organizations", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Errorf("status %d, want 202", resp.StatusCode)
	}
	if len(trigger.kinds) != 1 || trigger.kinds[0] != models.KindOrganization {
		t.Errorf("unexpected triggers %v", trigger.kinds)
	}

	resp, _ = postJSON(t, app, "/sync/ships", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status %d, want 404 for an unknown kind", resp.StatusCode)
	}

	trigger.busy = true
	resp, _ = postJSON(t, app, "/sync/all", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("status %d, want 409 while busy", resp.StatusCode)
	}
}

func TestStatusHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ESI-Error-Limit-Remain", "88")
		w.Header().Set("X-ESI-Error-Limit-Reset", "12")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"players":31337,"server_version":"2345678","start_time":"2026-03-01T11:00:00Z"}`)
	}))
	defer upstream.Close()

	cfg := esi.DefaultConfig()
	cfg.BaseURL = upstream.URL
	client := esi.NewClient(cfg, nil)

	app := fiber.New()
	app.Get("/status", NewStatusHandler(client, 0, nil).Status)

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decode(t, resp)
	if body["reachable"] != true {
		t.Fatalf("expected reachable upstream, got %v", body)
	}
	server := body["server"].(map[string]interface{})
	if server["players"].(float64) != 31337 {
		t.Errorf("unexpected server block %v", server)
	}
	limits := body["rate_limits"].(map[string]interface{})
	if limits["error_limit_remain"].(float64) != 88 {
		t.Errorf("unexpected rate limits %v", limits)
	}
}

func TestStatusHandler_UnreachableReportsFreshLimits(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ESI-Error-Limit-Remain", "7")
		w.Header().Set("X-ESI-Error-Limit-Reset", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := esi.DefaultConfig()
	cfg.BaseURL = upstream.URL
	cfg.MaxAttempts = 1
	client := esi.NewClient(cfg, nil)

	app := fiber.New()
	app.Get("/status", NewStatusHandler(client, 0, nil).Status)

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["reachable"] != false {
		t.Fatalf("expected unreachable upstream, got %v", body)
	}
	limits := body["rate_limits"].(map[string]interface{})
	if limits["error_limit_remain"].(float64) != 7 || limits["error_limit_reset"].(float64) != 30 {
		t.Errorf("expected limits from the failed call, got %v", limits)
	}
}
