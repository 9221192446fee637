package sse

import (
	"errors"
	"time"

	"github.com/fjod/go_cellar/internal/domain"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	// StateExhausted is entered when the retry budget is spent. Only a
	// manual reconnect leaves it.
	StateExhausted State = "EXHAUSTED"
)

func (s State) IsTerminal() bool {
	return s == StateExhausted
}

func (s State) String() string {
	return string(s)
}

var ErrIllegalTransition = errors.New("illegal transition of connection state")

// Policy is the reconnect budget: after a transport error the next attempt
// waits BaseDelay * 2^attempts, capped at MaxBackoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// MaxBackoff caps a single reconnect delay.
const MaxBackoff = 10 * time.Minute

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 3 * time.Second}
}

func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	return min(d, MaxBackoff)
}

// Status is the externally visible connection state.
type Status struct {
	State             State  `json:"state"`
	Connected         bool   `json:"isConnected"`
	ConnectionID      string `json:"connectionId,omitempty"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	LastError         string `json:"lastError,omitempty"`
}

// Machine holds the reconnect state machine, free of any transport or
// timer so the retry boundary can be tested on its own. It is not safe for
// concurrent use; Channel serializes access.
type Machine struct {
	policy       Policy
	state        State
	attempts     int
	connectionID string
	lastErr      string
}

func NewMachine(p Policy) *Machine {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return &Machine{policy: p, state: StateDisconnected}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Status() Status {
	return Status{
		State:             m.state,
		Connected:         m.state == StateConnected,
		ConnectionID:      m.connectionID,
		ReconnectAttempts: m.attempts,
		LastError:         m.lastErr,
	}
}

// Connect starts an attempt from Disconnected or Reconnecting.
func (m *Machine) Connect() error {
	switch m.state {
	case StateDisconnected, StateReconnecting:
		m.state = StateConnecting
		return nil
	default:
		return ErrIllegalTransition
	}
}

// Opened marks the transport open and refills the retry budget.
func (m *Machine) Opened() error {
	if m.state != StateConnecting {
		return ErrIllegalTransition
	}
	m.state = StateConnected
	m.attempts = 0
	m.lastErr = ""
	return nil
}

func (m *Machine) SetConnectionID(id string) {
	m.connectionID = id
}

// ServerError records a structured error event. The connection stays up.
func (m *Machine) ServerError(msg string) {
	m.lastErr = msg
}

// Fail handles a transport error. It returns the delay before the next
// attempt, or ok=false once the budget is spent and the machine is
// Exhausted.
func (m *Machine) Fail(err error) (delay time.Duration, ok bool) {
	if err != nil {
		m.lastErr = err.Error()
	}
	m.connectionID = ""

	if m.attempts >= m.policy.MaxAttempts {
		m.state = StateExhausted
		m.lastErr = domain.ErrConnectionExhausted.Error()
		return 0, false
	}

	delay = m.policy.backoff(m.attempts)
	m.attempts++
	m.state = StateReconnecting
	return delay, true
}

// Disconnect is valid from any state. The attempt counter survives, only
// Reset refills it.
func (m *Machine) Disconnect() {
	m.connectionID = ""
	m.state = StateDisconnected
}

// Reset is the manual reconnect: attempts back to zero, last error cleared.
func (m *Machine) Reset() {
	m.state = StateDisconnected
	m.attempts = 0
	m.lastErr = ""
	m.connectionID = ""
}
