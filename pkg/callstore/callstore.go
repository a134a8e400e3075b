// Package callstore persists what happened on a call once it ends: the chat
// history and call state go to a kv.Store, and a YAML transcript is archived
// to a storage.FileStore when one is configured.
package callstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/eventbus"
	"github.com/haivivi/phonecall/pkg/jsontime"
	"github.com/haivivi/phonecall/pkg/kv"
	"github.com/haivivi/phonecall/pkg/storage"
)

// Record is the persisted summary of one call.
type Record struct {
	CallID     string            `msgpack:"call_id" yaml:"call_id" json:"call_id"`
	UserID     string            `msgpack:"user_id" yaml:"user_id" json:"user_id"`
	PersonaID  string            `msgpack:"persona_id" yaml:"persona_id" json:"persona_id"`
	StartedAt  time.Time         `msgpack:"started_at" yaml:"started_at" json:"started_at"`
	EndedAt    time.Time         `msgpack:"ended_at" yaml:"ended_at" json:"ended_at"`
	AgentAudio jsontime.Duration `msgpack:"agent_audio" yaml:"agent_audio" json:"agent_audio"`
	Params     map[string]any    `msgpack:"params,omitempty" yaml:"params,omitempty" json:"params,omitempty"`
	CallState  map[string]any    `msgpack:"call_state,omitempty" yaml:"call_state,omitempty" json:"call_state,omitempty"`
	History    []call.Turn       `msgpack:"history" yaml:"history" json:"history"`
}

// NewRecord snapshots s.
func NewRecord(s *call.Session, endedAt time.Time) *Record {
	r := &Record{
		CallID:    s.CallID,
		UserID:    s.UserID,
		StartedAt: s.StartedAt,
		EndedAt:   endedAt,
		Params:    maps.Clone(s.ConstParams),
		CallState: s.CallState(),
		History:   s.History(),
	}
	if s.Persona != nil {
		r.PersonaID = s.Persona.ID
	}
	return r
}

// Duration is the wall-clock length of the call.
func (r *Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Store reads and writes call records.
type Store struct {
	kv      kv.Store
	archive storage.FileStore
}

// New returns a Store. archive may be nil.
func New(store kv.Store, archive storage.FileStore) *Store {
	return &Store{kv: store, archive: archive}
}

func recordKey(userID, callID string) kv.Key {
	return kv.Key{"calls", userID, callID}
}

// ArchivePath is where the YAML transcript of a call is archived.
func ArchivePath(userID, callID string) string {
	return "calls/" + userID + "/" + callID + ".yaml"
}

// Save stores r and archives its transcript.
func (s *Store) Save(ctx context.Context, r *Record) error {
	if r.UserID == "" || r.CallID == "" {
		return fmt.Errorf("callstore: record without user or call id")
	}
	if err := kv.SetValue(ctx, s.kv, recordKey(r.UserID, r.CallID), r); err != nil {
		return fmt.Errorf("callstore: save %s: %w", r.CallID, err)
	}
	if s.archive == nil {
		return nil
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("callstore: marshal %s: %w", r.CallID, err)
	}
	if err := s.archive.Put(ctx, ArchivePath(r.UserID, r.CallID), data, "application/yaml"); err != nil {
		return fmt.Errorf("callstore: archive %s: %w", r.CallID, err)
	}
	return nil
}

// Get returns the record of one call. A call missing from the kv store is
// read back from its archived transcript; kv.ErrNotFound is returned when
// neither has it.
func (s *Store) Get(ctx context.Context, userID, callID string) (*Record, error) {
	var r Record
	err := kv.GetValue(ctx, s.kv, recordKey(userID, callID), &r)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, kv.ErrNotFound) || s.archive == nil {
		return nil, err
	}
	data, aerr := s.archive.Get(ctx, ArchivePath(userID, callID))
	if errors.Is(aerr, storage.ErrNotExist) {
		return nil, err
	}
	if aerr != nil {
		return nil, fmt.Errorf("callstore: read archive %s: %w", callID, aerr)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("callstore: decode archive %s: %w", callID, err)
	}
	return &r, nil
}

// List returns the records of userID, or of every user when userID is
// empty, ordered by key.
func (s *Store) List(ctx context.Context, userID string) ([]*Record, error) {
	prefix := kv.Key{"calls"}
	if userID != "" {
		prefix = append(prefix, userID)
	}
	var out []*Record
	for e, err := range s.kv.List(ctx, prefix) {
		if err != nil {
			return nil, fmt.Errorf("callstore: list: %w", err)
		}
		var r Record
		if err := msgpack.Unmarshal(e.Value, &r); err != nil {
			return nil, fmt.Errorf("callstore: decode %s: %w", e.Key, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

// Finalizer returns the call-ended step that persists sess. agentAudio
// reports how much audio the agent spoke and may be nil. A session that
// never initialized has nothing worth keeping and is skipped.
func (s *Store) Finalizer(sess *call.Session, agentAudio func() time.Duration, logger *slog.Logger) eventbus.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ any) error {
		if sess.UserID == "" || sess.CallID == "" {
			logger.Debug("callstore: uninitialized session, not saved")
			return nil
		}
		r := NewRecord(sess, time.Now())
		if agentAudio != nil {
			r.AgentAudio = jsontime.Duration(agentAudio())
		}
		if err := s.Save(ctx, r); err != nil {
			return err
		}
		logger.Info("call saved", "turns", len(r.History), "duration", r.Duration(), "agent_audio", r.AgentAudio)
		return nil
	}
}
