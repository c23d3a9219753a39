package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PratikDhanave/call-relay-service/internal/alert"
	"github.com/PratikDhanave/call-relay-service/internal/carrier"
	"github.com/PratikDhanave/call-relay-service/internal/handlers"
	"github.com/PratikDhanave/call-relay-service/internal/monitor"
	"github.com/PratikDhanave/call-relay-service/internal/pipeline"
	"github.com/PratikDhanave/call-relay-service/internal/store"
	"github.com/PratikDhanave/call-relay-service/internal/telegram"
)

// These tests run the operator API end-to-end against an in-memory
// ledger, a fake carrier and a fake Bot API:
//
//	Client → HTTP API → Auth → Pool → Pipeline → Ledger / Carrier / Telegram

const operatorKey = "ops-key-123"

type botAPI struct {
	mu       sync.Mutex
	messages []string
}

func (b *botAPI) handler(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("text")
	b.mu.Lock()
	b.messages = append(b.messages, text)
	b.mu.Unlock()
	_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1}}`)
}

func (b *botAPI) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}

type idleMonitor struct{}

func (idleMonitor) Stats() monitor.Stats { return monitor.Stats{State: "disconnected"} }

func newStack(t *testing.T, apiKeys map[string]string) (http.Handler, *botAPI, *pipeline.Pool) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live/calls/lives":
			_, _ = io.WriteString(w, `{"duration":42}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(platform.Close)

	bot := &botAPI{}
	botServer := httptest.NewServer(http.HandlerFunc(bot.handler))
	t.Cleanup(botServer.Close)

	calls, err := carrier.NewClient(carrier.Config{
		LoginURL: platform.URL + "/login",
		CallsURL: platform.URL + "/live/calls/lives",
		SoundURL: platform.URL + "/live/calls/sound",
		Email:    "ops@example.com",
		Password: "secret",
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("carrier client: %v", err)
	}

	tg, err := telegram.NewClient(telegram.Config{Token: "123:abc", BaseURL: botServer.URL})
	if err != nil {
		t.Fatalf("telegram client: %v", err)
	}
	ledger := store.NewMemoryStore()

	p, err := pipeline.New(pipeline.Config{
		Ledger:      ledger,
		Calls:       calls,
		Notifier:    &telegram.Channel{Client: tg, ChatID: "-100"},
		Alerter:     alert.New(nil, alert.Config{Logger: logger}),
		DownloadDir: t.TempDir(),
		Location:    time.UTC,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	pool := pipeline.NewPool(p, pipeline.PoolConfig{MaxInFlight: 4, Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	router := NewRouter(Deps{
		Ledger:  ledger,
		Pool:    pool,
		Monitor: idleMonitor{},
		APIKeys: apiKeys,
		Logger:  logger,
	})
	return router, bot, pool
}

func do(t *testing.T, h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndReady(t *testing.T) {
	h, _, _ := newStack(t, nil)

	if w := do(t, h, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/ready", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ready") {
		t.Fatalf("ready: got %d %s", w.Code, w.Body.String())
	}
}

func TestOperatorAPIDisabledWithoutKeys(t *testing.T) {
	h, _, _ := newStack(t, nil)

	if w := do(t, h, http.MethodGet, "/stats", operatorKey, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without API_KEYS, got %d", w.Code)
	}
}

func TestUnauthorized(t *testing.T) {
	h, _, _ := newStack(t, map[string]string{operatorKey: "ops"})

	if w := do(t, h, http.MethodGet, "/stats", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: expected 401, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/calls", "bad-key", `{"id":"c1","did":"1"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad key: expected 401, got %d", w.Code)
	}
}

// Injecting the same call twice delivers one text-only notification
// (the recording is missing) and counts one success.
func TestInjectedDuplicateDeliversOnce(t *testing.T) {
	h, bot, pool := newStack(t, map[string]string{operatorKey: "ops"})

	body := `{"id":"c1","did":"15551234567","uuid":"u1","country":"US","country_code":"US"}`
	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodPost, "/calls", operatorKey, body); w.Code != http.StatusAccepted {
			t.Fatalf("inject #%d: expected 202, got %d body=%s", i+1, w.Code, w.Body.String())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	sent := bot.sent()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one delivery, got %d: %q", len(sent), sent)
	}
	for _, want := range []string{"Country: US 🇺🇸", "DID: +1555****567", "Duration: 42s"} {
		if !strings.Contains(sent[0], want) {
			t.Fatalf("caption %q missing %q", sent[0], want)
		}
	}
	if strings.Contains(sent[0], "Code:") {
		t.Fatalf("caption without transcript must not carry a code: %q", sent[0])
	}

	w := do(t, h, http.MethodGet, "/stats", operatorKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
	var stats handlers.StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Ledger[store.CounterSuccess] != 1 || stats.Ledger[store.CounterFailed] != 0 {
		t.Fatalf("unexpected ledger counters %v", stats.Ledger)
	}
	if stats.Pool.Submitted != 2 || stats.Pool.Delivered != 1 || stats.Pool.Duplicates != 1 {
		t.Fatalf("unexpected pool stats %+v", stats.Pool)
	}
	if stats.Monitor.State != "disconnected" {
		t.Fatalf("unexpected monitor stats %+v", stats.Monitor)
	}
}
