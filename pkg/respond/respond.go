// Package respond generates the agent's spoken replies. A reply is a lazy
// sequence of text fragments produced by a streaming chat model; the caller
// cancels it by stopping iteration or cancelling the context.
//
// Two backends are provided: [OpenAI] for OpenAI-compatible chat completion
// APIs and [Gemini] for Google Gemini. Both build the same prompt from the
// session persona, the knowledge base, the chat history and the call state.
package respond

import (
	"context"
	"errors"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/persona"
)

// Fragment is one piece of a generated reply.
type Fragment struct {
	Text    string
	IsFinal bool
}

// ErrNoPersona is returned when a session reaches the engine without a
// resolved persona.
var ErrNoPersona = errors.New("respond: session has no persona")

// StateTurns is the call-state key counting generated replies.
const StateTurns = "turns"

// session is the per-call part shared by the backends.
type session struct {
	persona *persona.Persona
}

// InitializeFromSession binds the engine to the session persona. The
// persona must be resolved before this is called.
func (e *session) InitializeFromSession(_ context.Context, s *call.Session) error {
	if s.Persona == nil {
		return ErrNoPersona
	}
	e.persona = s.Persona
	return nil
}

func (e *session) personaFor(s *call.Session) (*persona.Persona, error) {
	if e.persona != nil {
		return e.persona, nil
	}
	if s.Persona == nil {
		return nil, ErrNoPersona
	}
	return s.Persona, nil
}

// beginTurn increments the reply counter in the call state.
func beginTurn(s *call.Session) {
	s.UpdateCallState(func(st map[string]any) {
		n, _ := st[StateTurns].(int)
		st[StateTurns] = n + 1
	})
}
