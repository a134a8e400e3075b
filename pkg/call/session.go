// Package call holds the per-call state shared by every component of a phone
// call session and the initializer that populates it from the transport's
// call-start metadata.
package call

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haivivi/phonecall/pkg/persona"
)

// Event is a call lifecycle event published by the telephony transport.
type Event string

const (
	// EventStarted carries a StartMetadata payload.
	EventStarted Event = "call_started"
	// EventAudio carries the caller's raw audio as a []byte payload.
	EventAudio Event = "audio_chunk"
	// EventEnded has no payload.
	EventEnded Event = "call_ended"
)

// StartMetadata is the transport-independent content of a call-start event.
type StartMetadata struct {
	CallID           string
	StreamID         string
	CustomParameters map[string]string
}

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one entry of the running chat history.
type Turn struct {
	Role Role      `msgpack:"role" yaml:"role" json:"role"`
	Text string    `msgpack:"text" yaml:"text" json:"text"`
	At   time.Time `msgpack:"at" yaml:"at" json:"at"`
}

// Session is the mutable state of one call. It is created when the transport
// accepts the call and lives until the call-ended handler has finalized it.
//
// CallID, UserID, StreamID, ConstParams and Persona are written once by the
// Initializer before any generation and are read-only afterwards. The
// transcript accumulators belong to the call agent. The interruption and
// agent-speaking flags are the only fields read across goroutines without
// further coordination and are therefore atomic. Call state and history are
// guarded by a mutex because the finalizer reads them after the last turn.
type Session struct {
	CallID      string
	UserID      string
	StreamID    string
	StartedAt   time.Time
	ConstParams map[string]any
	Persona     *persona.Persona

	CurrentTranscript      string
	PendingFinalTranscript string

	interruption  atomic.Bool
	agentSpeaking atomic.Bool

	mu      sync.Mutex
	state   map[string]any
	history []Turn
}

// NewSession returns an empty session stamped with the current time.
func NewSession() *Session {
	return &Session{
		StartedAt:   time.Now(),
		ConstParams: map[string]any{},
		state:       map[string]any{},
	}
}

// Interrupted reports whether the caller has barged in on the current reply.
func (s *Session) Interrupted() bool { return s.interruption.Load() }

// SetInterruption sets the barge-in flag.
func (s *Session) SetInterruption(v bool) { s.interruption.Store(v) }

// AgentSpeaking reports whether a reply is being generated and spoken.
func (s *Session) AgentSpeaking() bool { return s.agentSpeaking.Load() }

// SetAgentSpeaking sets the agent-speaking flag.
func (s *Session) SetAgentSpeaking(v bool) { s.agentSpeaking.Store(v) }

// CallState returns a shallow copy of the call-state scratchpad.
func (s *Session) CallState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.state)
}

// UpdateCallState runs fn with exclusive access to the call-state scratchpad.
func (s *Session) UpdateCallState(fn func(state map[string]any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// AppendTurn adds a turn to the chat history.
func (s *Session) AppendTurn(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Text: text, At: time.Now()})
}

// History returns a copy of the chat history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// MarkInterrupted sets the barge-in flag and reports whether it was clear
// before, so one barge-in is signaled exactly once.
func (s *Session) MarkInterrupted() bool { return s.interruption.CompareAndSwap(false, true) }
