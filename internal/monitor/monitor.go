// Package monitor keeps the carrier event stream alive and feeds each
// accepted call to the dispatcher.
//
// The state machine is Disconnected -> Handshaking -> Joining -> Polling,
// falling back to Disconnected on any transport failure. It never
// terminates on its own; Run returns only when its context is cancelled.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/PratikDhanave/call-relay-service/internal/clock"
	"github.com/PratikDhanave/call-relay-service/internal/models"
	"github.com/PratikDhanave/call-relay-service/internal/socket"
)

// State is the connection state of the monitor.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateJoining
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateJoining:
		return "joining"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Authenticator establishes the account session whose cookies the
// transport rides on.
type Authenticator interface {
	Login(ctx context.Context) error
	Jar() http.CookieJar
}

// Transport is the long-polling session I/O.
type Transport interface {
	Handshake(ctx context.Context, jar http.CookieJar) (socket.Session, error)
	JoinRoom(ctx context.Context, s socket.Session) error
	Poll(ctx context.Context, s socket.Session) (socket.Batch, error)
}

// Dispatcher accepts calls without blocking.
type Dispatcher interface {
	Submit(ev models.CallEvent) (string, error)
}

// Alerter reaches the operator.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Config wires a Monitor.
type Config struct {
	Auth       Authenticator
	Transport  Transport
	Dispatcher Dispatcher
	Alerter    Alerter
	Clock      clock.Clock

	// ReconnectDelay is the fixed wait before every reconnect attempt.
	ReconnectDelay time.Duration
	// PollInterval is the pause between consecutive polls. Zero polls back to back.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Stats is a snapshot for the operator endpoint.
type Stats struct {
	State      string `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	Reconnects int64  `json:"reconnects"`
	Calls      int64  `json:"calls_dispatched"`
	Filtered   int64  `json:"events_filtered"`
	Malformed  int64  `json:"events_malformed"`
	Unknown    int64  `json:"frames_dropped"`
	Pings      int64  `json:"pings_answered"`
}

// Monitor owns the poll loop. Only one session is ever polled; a new
// handshake abandons the previous session without tearing it down.
type Monitor struct {
	cfg Config

	state     atomic.Int32
	sessionID atomic.Pointer[string]

	reconnects atomic.Int64
	calls      atomic.Int64
	filtered   atomic.Int64
	malformed  atomic.Int64
	unknown    atomic.Int64
	pings      atomic.Int64
}

// New validates cfg.
func New(cfg Config) (*Monitor, error) {
	if cfg.Auth == nil || cfg.Transport == nil || cfg.Dispatcher == nil || cfg.Alerter == nil {
		return nil, errors.New("monitor: Auth, Transport, Dispatcher and Alerter are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{cfg: cfg}, nil
}

// State returns the current connection state.
func (m *Monitor) State() State { return State(m.state.Load()) }

func (m *Monitor) setState(s State) {
	if State(m.state.Swap(int32(s))) != s {
		m.cfg.Logger.Debug("monitor state", "state", s.String())
	}
}

// Run drives the state machine until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	needLogin := true
	first := true

	for {
		m.setState(StateDisconnected)
		m.sessionID.Store(nil)
		if !first {
			if !m.wait(ctx, m.cfg.ReconnectDelay) {
				return ctx.Err()
			}
			m.reconnects.Add(1)
		}
		first = false

		if needLogin {
			if err := m.cfg.Auth.Login(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.cfg.Logger.Error("login failed", "error", err)
				m.cfg.Alerter.Alert(ctx, fmt.Sprintf("❌ Login failed: %v", err))
				continue
			}
			needLogin = false
		}

		m.setState(StateHandshaking)
		session, err := m.cfg.Transport.Handshake(ctx, m.cfg.Auth.Jar())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.cfg.Logger.Error("socket handshake failed", "error", err)
			m.cfg.Alerter.Alert(ctx, fmt.Sprintf("❌ Socket handshake failed: %v", err))
			// Expired cookies are the usual cause; log in again next round.
			needLogin = true
			continue
		}
		sid := session.ID
		m.sessionID.Store(&sid)

		m.setState(StateJoining)
		if err := m.cfg.Transport.JoinRoom(ctx, session); err != nil {
			// The join is not acknowledged anyway; a broken session
			// shows up on the first poll.
			m.cfg.Logger.Warn("join room failed", "sid", session.ID, "error", err)
		}

		m.setState(StatePolling)
		m.cfg.Logger.Info("monitor active", "sid", session.ID)
		err = m.poll(ctx, session)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.cfg.Logger.Warn("socket disconnected", "sid", session.ID, "error", err)
		if errors.Is(err, socket.ErrRejected) {
			needLogin = true
		}
		m.cfg.Alerter.Alert(ctx, "❌ Socket disconnected, reconnecting...")
	}
}

// poll runs the Polling state until the transport fails.
func (m *Monitor) poll(ctx context.Context, session socket.Session) error {
	for {
		batch, err := m.cfg.Transport.Poll(ctx, session)
		for _, f := range batch.Frames {
			m.handleFrame(f)
		}
		if batch.Pinged {
			m.pings.Add(1)
		}
		if err != nil {
			return err
		}
		if m.cfg.PollInterval > 0 && !m.wait(ctx, m.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

// handleFrame dispatches new_call events and counts everything else
// that was dropped. It never blocks on pipeline work.
func (m *Monitor) handleFrame(f socket.Frame) {
	switch f.Kind {
	case socket.KindEvent:
	case socket.KindUnknown:
		m.unknown.Add(1)
		m.cfg.Logger.Warn("dropping unrecognized frame", "frame", truncate(f.Raw, 200))
		return
	default:
		return
	}

	ev, err := socket.ParseCall(f)
	switch {
	case errors.Is(err, socket.ErrNotCall):
		m.filtered.Add(1)
		m.cfg.Logger.Debug("ignoring event", "event", f.Name)
		return
	case err != nil:
		m.malformed.Add(1)
		m.cfg.Logger.Warn("discarding malformed call", "error", err, "frame", truncate(f.Raw, 200))
		return
	}

	runID, err := m.cfg.Dispatcher.Submit(ev)
	if err != nil {
		m.cfg.Logger.Error("dispatch refused", "call_id", ev.ID, "error", err)
		return
	}
	m.calls.Add(1)
	m.cfg.Logger.Info("call dispatched", "call_id", ev.ID, "run_id", runID, "country", ev.CountryCode)
}

func (m *Monitor) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-m.cfg.Clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() Stats {
	s := Stats{
		State:      m.State().String(),
		Reconnects: m.reconnects.Load(),
		Calls:      m.calls.Load(),
		Filtered:   m.filtered.Load(),
		Malformed:  m.malformed.Load(),
		Unknown:    m.unknown.Load(),
		Pings:      m.pings.Load(),
	}
	if sid := m.sessionID.Load(); sid != nil {
		s.SessionID = *sid
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
