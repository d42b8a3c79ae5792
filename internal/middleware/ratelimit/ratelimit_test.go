package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestMiddleware_RejectsAfterBurst(t *testing.T) {
	rl := New(Config{RequestsPerMinute: 1, Burst: 2})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Post("/scans", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })

	want := []int{fiber.StatusCreated, fiber.StatusCreated, fiber.StatusTooManyRequests}
	for i, status := range want {
		resp, err := app.Test(httptest.NewRequest("POST", "/scans", nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != status {
			t.Errorf("request %d: status %d, want %d", i, resp.StatusCode, status)
		}
		if status == fiber.StatusTooManyRequests && resp.Header.Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
	}
}

func TestEvictIdle(t *testing.T) {
	rl := New(Config{RequestsPerMinute: 60, Burst: 1, IdleTimeout: time.Minute})
	defer rl.Stop()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.limiterFor("10.0.0.1")
	now = now.Add(30 * time.Second)
	rl.limiterFor("10.0.0.2")

	now = now.Add(45 * time.Second)
	if n := rl.evictIdle(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, ok := rl.clients["10.0.0.2"]; !ok {
		t.Error("recent client was evicted")
	}
}
