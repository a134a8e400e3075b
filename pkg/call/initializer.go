package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/haivivi/phonecall/pkg/persona"
)

// Custom parameters every call must carry.
const (
	ParamUserID    = "user_id"
	ParamPersonaID = "bot_id"
)

// ErrConfiguration marks errors that fail a session before any provider
// connection is opened: missing required parameters or an unknown persona.
var ErrConfiguration = errors.New("call: configuration error")

// Collaborator is a component that reads the initialized session before the
// call's providers are connected.
type Collaborator interface {
	InitializeFromSession(ctx context.Context, s *Session) error
}

// CollaboratorFunc adapts a function to the Collaborator interface.
type CollaboratorFunc func(ctx context.Context, s *Session) error

// InitializeFromSession calls f.
func (f CollaboratorFunc) InitializeFromSession(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// Initializer populates a Session from call-start metadata and then
// initializes the session collaborators one by one, in the order given.
// Order matters: collaborators that read the persona (the response engine)
// must come after it has been resolved, which Initialize guarantees for all.
type Initializer struct {
	session       *Session
	personas      *persona.Registry
	collaborators []Collaborator
	logger        *slog.Logger
}

// NewInitializer creates an Initializer for s that resolves personas from
// personas and then initializes collaborators in order.
func NewInitializer(s *Session, personas *persona.Registry, collaborators ...Collaborator) *Initializer {
	return &Initializer{
		session:       s,
		personas:      personas,
		collaborators: collaborators,
		logger:        slog.Default(),
	}
}

// WithLogger sets the logger used for decode warnings.
func (in *Initializer) WithLogger(l *slog.Logger) *Initializer {
	in.logger = l
	return in
}

// Initialize fills the session from md. It fails with an error wrapping
// ErrConfiguration if a required parameter is missing or the persona is
// unknown, and with the collaborator's error if one fails to initialize.
func (in *Initializer) Initialize(ctx context.Context, md StartMetadata) error {
	params := make(map[string]string, len(md.CustomParameters))
	for k, v := range md.CustomParameters {
		params[k] = v
	}

	userID, ok := popParam(params, ParamUserID)
	if !ok {
		return fmt.Errorf("%w: missing custom parameter %q", ErrConfiguration, ParamUserID)
	}
	personaID, ok := popParam(params, ParamPersonaID)
	if !ok {
		return fmt.Errorf("%w: missing custom parameter %q", ErrConfiguration, ParamPersonaID)
	}
	p, ok := in.personas.Get(personaID)
	if !ok {
		return fmt.Errorf("%w: unknown persona %q", ErrConfiguration, personaID)
	}

	s := in.session
	s.CallID = md.CallID
	s.StreamID = md.StreamID
	s.UserID = userID
	s.Persona = p
	s.ConstParams = make(map[string]any, len(params))
	for k, v := range params {
		s.ConstParams[k] = in.decodeParam(k, v)
	}

	for _, c := range in.collaborators {
		if err := c.InitializeFromSession(ctx, s); err != nil {
			return fmt.Errorf("call: initialize %T: %w", c, err)
		}
	}
	return nil
}

func popParam(params map[string]string, key string) (string, bool) {
	v, ok := params[key]
	delete(params, key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// decodeParam decodes values that look like JSON objects or arrays. Values
// with syntax errors get one repair attempt; anything still undecodable is
// kept as the raw string.
func (in *Initializer) decodeParam(key, raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return raw
	}
	var v any
	err := json.Unmarshal([]byte(trimmed), &v)
	if err == nil {
		return v
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		fixed, rerr := jsonrepair.JSONRepair(trimmed)
		if rerr == nil {
			if err = json.Unmarshal([]byte(fixed), &v); err == nil {
				return v
			}
		} else {
			err = rerr
		}
	}
	in.logger.Warn("call: keep raw custom parameter", "key", key, "error", err)
	return raw
}
