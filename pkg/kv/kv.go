// Package kv stores call records and knowledge documents under hierarchical
// keys. A Key such as {"calls", "u1", "CA42"} is encoded as "calls:u1:CA42".
//
// Two backends exist: [Memory] for tests and single-process runs, and
// [Badger] for persistence on disk.
package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNotFound   = errors.New("kv: not found")
	ErrInvalidKey = errors.New("kv: invalid key")
)

// Separator joins key segments in the encoded form.
const Separator = ":"

// Key is a hierarchical path. Segments must be non-empty and must not
// contain [Separator].
type Key []string

func (k Key) String() string {
	return strings.Join(k, Separator)
}

func (k Key) encode() ([]byte, error) {
	for _, seg := range k {
		if seg == "" || strings.Contains(seg, Separator) {
			return nil, fmt.Errorf("%w: segment %q of %q", ErrInvalidKey, seg, k.String())
		}
	}
	return []byte(k.String()), nil
}

// prefix returns the encoded form used to match keys under k. The trailing
// separator keeps {"calls", "u1"} from matching "calls:u10:...".
func (k Key) prefix() ([]byte, error) {
	if len(k) == 0 {
		return nil, nil
	}
	b, err := k.encode()
	if err != nil {
		return nil, err
	}
	return append(b, Separator...), nil
}

func decodeKey(b []byte) Key {
	return strings.Split(string(b), Separator)
}

// Entry is one stored pair.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path keys.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Delete of a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// List yields the entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	// BatchSet stores all entries in one transaction.
	BatchSet(ctx context.Context, entries []Entry) error
	Close() error
}

// GetValue reads key and decodes it as msgpack into v.
func GetValue(ctx context.Context, s Store, key Key, v any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// SetValue encodes v as msgpack and stores it under key.
func SetValue(ctx context.Context, s Store, key Key, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, b)
}
