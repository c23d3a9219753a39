package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/call-relay-service/internal/models"
	"github.com/PratikDhanave/call-relay-service/internal/monitor"
	"github.com/PratikDhanave/call-relay-service/internal/pipeline"
)

type fakeLedger struct {
	counters map[string]int64
	err      error
}

func (f fakeLedger) Counters(context.Context) (map[string]int64, error) {
	return f.counters, f.err
}

type fakePool struct {
	mu     sync.Mutex
	events []models.CallEvent
	err    error
}

func (f *fakePool) Submit(ev models.CallEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, ev)
	return "run-1", nil
}

func (f *fakePool) Stats() pipeline.PoolStats {
	return pipeline.PoolStats{Submitted: 3, Delivered: 2, Duplicates: 1}
}

type fakeMonitor struct{}

func (fakeMonitor) Stats() monitor.Stats {
	return monitor.Stats{State: "polling", SessionID: "abc123", Calls: 3, Malformed: 1}
}

func newEngine(ledger CounterReader, pool *fakePool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterStatsRoutes(r, ledger, pool, fakeMonitor{})
	RegisterCallRoutes(r, pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r
}

func postCall(t *testing.T, r http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/calls", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStats(t *testing.T) {
	r := newEngine(fakeLedger{counters: map[string]int64{"success": 7, "failed": 1}}, &fakePool{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var resp StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ledger["success"] != 7 || resp.Ledger["failed"] != 1 {
		t.Fatalf("unexpected ledger counters %v", resp.Ledger)
	}
	if resp.Pool.Delivered != 2 || resp.Pool.Duplicates != 1 {
		t.Fatalf("unexpected pool stats %+v", resp.Pool)
	}
	if resp.Monitor.State != "polling" || resp.Monitor.SessionID != "abc123" || resp.Monitor.Malformed != 1 {
		t.Fatalf("unexpected monitor stats %+v", resp.Monitor)
	}
}

func TestStatsLedgerDown(t *testing.T) {
	r := newEngine(fakeLedger{err: errors.New("connection refused")}, &fakePool{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestInjectCall(t *testing.T) {
	pool := &fakePool{}
	r := newEngine(fakeLedger{}, pool)

	w := postCall(t, r, `{"id":" c1 ","did":"15551234567","uuid":"u1","country":"US","country_code":"us"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", w.Code, w.Body.String())
	}

	var resp models.CallInjectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CallID != "c1" || resp.RunID != "run-1" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if len(pool.events) != 1 {
		t.Fatalf("expected one submission, got %d", len(pool.events))
	}
	ev := pool.events[0]
	if ev.AudioRef != "u1" || ev.CountryCode != "US" || ev.CountryName != "US" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestInjectCallValidation(t *testing.T) {
	pool := &fakePool{}
	r := newEngine(fakeLedger{}, pool)

	for _, body := range []string{
		`not-json`,
		`{"did":"15551234567"}`,
		`{"id":"c1"}`,
	} {
		if w := postCall(t, r, body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
	if len(pool.events) != 0 {
		t.Fatalf("invalid requests must not be submitted: %+v", pool.events)
	}
}

func TestInjectCallDuringShutdown(t *testing.T) {
	r := newEngine(fakeLedger{}, &fakePool{err: pipeline.ErrPoolClosed})

	if w := postCall(t, r, `{"id":"c1","did":"1"}`); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
