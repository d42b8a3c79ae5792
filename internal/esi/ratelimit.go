package esi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	headerErrorLimitRemain = "X-ESI-Error-Limit-Remain"
	headerErrorLimitReset  = "X-ESI-Error-Limit-Reset"
)

// RateLimitState holds the error budget reported by the most recent
// upstream response. It is safe for concurrent use.
type RateLimitState struct {
	mu        sync.RWMutex
	remain    float64
	resetSecs float64
	observed  time.Time
}

func newRateLimitState() *RateLimitState {
	return &RateLimitState{remain: -1, resetSecs: -1}
}

func (s *RateLimitState) observe(h http.Header, at time.Time) {
	remain, okRemain := parseHeaderFloat(h, headerErrorLimitRemain)
	reset, okReset := parseHeaderFloat(h, headerErrorLimitReset)
	if !okRemain && !okReset {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if okRemain {
		s.remain = remain
	}
	if okReset {
		s.resetSecs = reset
	}
	s.observed = at
}

// ErrorLimitRemain returns -1 until a response carried the header.
func (s *RateLimitState) ErrorLimitRemain() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remain
}

func (s *RateLimitState) ErrorLimitReset() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resetSecs
}

type RateLimitSnapshot struct {
	ErrorLimitRemain float64   `json:"error_limit_remain"`
	ErrorLimitReset  float64   `json:"error_limit_reset"`
	ObservedAt       time.Time `json:"observed_at"`
}

func (s *RateLimitState) Snapshot() RateLimitSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RateLimitSnapshot{
		ErrorLimitRemain: s.remain,
		ErrorLimitReset:  s.resetSecs,
		ObservedAt:       s.observed,
	}
}

func parseHeaderFloat(h http.Header, key string) (float64, bool) {
	raw := h.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
