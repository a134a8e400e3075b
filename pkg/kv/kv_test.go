package kv_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/haivivi/phonecall/pkg/kv"
)

func backends(t *testing.T) map[string]kv.Store {
	t.Helper()
	b, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	m := kv.NewMemory()
	t.Cleanup(func() {
		b.Close()
		m.Close()
	})
	return map[string]kv.Store{"memory": m, "badger": b}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := kv.Key{"calls", "u1", "CA1"}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, key, []byte("one")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, key, []byte("two")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, err := s.Get(ctx, key)
			if err != nil || string(got) != "two" {
				t.Fatalf("Get = %q, %v", got, err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("Get after delete = %v", err)
			}
			if err := s.Delete(ctx, kv.Key{"never", "set"}); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
		})
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.BatchSet(ctx, []kv.Entry{
				{Key: kv.Key{"calls", "u1", "CA2"}, Value: []byte("b")},
				{Key: kv.Key{"calls", "u1", "CA1"}, Value: []byte("a")},
				{Key: kv.Key{"calls", "u10", "CA3"}, Value: []byte("c")},
				{Key: kv.Key{"kb", "p1", "doc"}, Value: []byte("d")},
			})
			if err != nil {
				t.Fatalf("BatchSet: %v", err)
			}

			var got []string
			for e, err := range s.List(ctx, kv.Key{"calls", "u1"}) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				got = append(got, e.Key.String()+"="+string(e.Value))
			}
			want := []string{"calls:u1:CA1=a", "calls:u1:CA2=b"}
			if !slices.Equal(got, want) {
				t.Fatalf("List = %v, want %v", got, want)
			}

			n := 0
			for _, err := range s.List(ctx, nil) {
				if err != nil {
					t.Fatalf("List all: %v", err)
				}
				n++
			}
			if n != 4 {
				t.Fatalf("List all = %d entries, want 4", n)
			}

			n = 0
			for range s.List(ctx, kv.Key{"calls"}) {
				n++
				break
			}
			if n != 1 {
				t.Fatal("List did not stop on break")
			}
		})
	}
}

func TestInvalidKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []kv.Key{{"bad:seg"}, {"a", ""}} {
				if err := s.Set(ctx, key, nil); !errors.Is(err, kv.ErrInvalidKey) {
					t.Errorf("Set(%q) = %v, want ErrInvalidKey", key, err)
				}
			}
			for _, err := range s.List(ctx, kv.Key{"x:y"}) {
				if !errors.Is(err, kv.ErrInvalidKey) {
					t.Errorf("List error = %v, want ErrInvalidKey", err)
				}
			}
		})
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory()
	v := []byte("original")
	if err := s.Set(ctx, kv.Key{"k"}, v); err != nil {
		t.Fatal(err)
	}
	v[0] = 'X'
	got, _ := s.Get(ctx, kv.Key{"k"})
	got[1] = 'Y'
	again, _ := s.Get(ctx, kv.Key{"k"})
	if string(again) != "original" {
		t.Fatalf("stored value mutated: %q", again)
	}
}

func TestValueHelpers(t *testing.T) {
	type rec struct {
		Name  string
		Turns int
	}
	ctx := context.Background()
	s := kv.NewMemory()
	if err := kv.SetValue(ctx, s, kv.Key{"r"}, rec{"Ada", 3}); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	var got rec
	if err := kv.GetValue(ctx, s, kv.Key{"r"}, &got); err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got != (rec{"Ada", 3}) {
		t.Fatalf("GetValue = %+v", got)
	}
	if err := kv.GetValue(ctx, s, kv.Key{"missing"}, &got); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("GetValue missing = %v", err)
	}
	s.Set(ctx, kv.Key{"junk"}, []byte{0xc1})
	if err := kv.GetValue(ctx, s, kv.Key{"junk"}, &got); err == nil {
		t.Fatal("GetValue of junk should fail")
	}
}
