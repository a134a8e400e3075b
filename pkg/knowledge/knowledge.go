// Package knowledge is the snippet store backing a persona's knowledge
// base. Snippets live in a kv.Store under kb:<persona>:<seq> as msgpack
// records. With an embedder, snippets carry a vector and are searched by
// cosine similarity; without one they are ranked by keyword overlap.
package knowledge

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/phonecall/pkg/embed"
	"github.com/haivivi/phonecall/pkg/kv"
	"github.com/haivivi/phonecall/pkg/persona"
	"github.com/haivivi/phonecall/pkg/vecstore"
)

// Snippet is one stored paragraph.
type Snippet struct {
	Seq      int       `msgpack:"seq"`
	Text     string    `msgpack:"text"`
	Keywords []string  `msgpack:"keywords"`
	Vector   []float32 `msgpack:"vector,omitempty"`
}

// Base is the knowledge of one persona.
type Base struct {
	store    kv.Store
	prefix   kv.Key
	embedder embed.Embedder

	mu    sync.Mutex
	index vecstore.Index // nil until the next semantic search loads it
	texts map[string]string
}

var _ persona.KnowledgeBase = (*Base)(nil)

// Option configures a Base.
type Option func(*Base)

// WithEmbedder makes the base embed snippets as they are added and answer
// searches by vector similarity. A nil embedder keeps keyword search.
func WithEmbedder(e embed.Embedder) Option {
	return func(b *Base) { b.embedder = e }
}

// New returns the knowledge base of personaID in store.
func New(store kv.Store, personaID string, opts ...Option) *Base {
	b := &Base{store: store, prefix: kv.Key{"kb", personaID}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add splits each document into paragraphs and stores them after the
// existing snippets. It returns the number of snippets stored.
func (b *Base) Add(ctx context.Context, docs ...string) (int, error) {
	next, err := b.count(ctx)
	if err != nil {
		return 0, err
	}
	var texts []string
	for _, doc := range docs {
		texts = append(texts, paragraphs(doc)...)
	}
	if len(texts) == 0 {
		return 0, nil
	}
	var vecs [][]float32
	if b.embedder != nil {
		if vecs, err = b.embedder.EmbedBatch(ctx, texts); err != nil {
			return 0, fmt.Errorf("knowledge: %w", err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("knowledge: got %d vectors for %d snippets", len(vecs), len(texts))
		}
	}

	entries := make([]kv.Entry, 0, len(texts))
	for i, text := range texts {
		sn := Snippet{Seq: next + i, Text: text, Keywords: keywords(text)}
		if vecs != nil {
			sn.Vector = vecs[i]
		}
		data, err := msgpack.Marshal(sn)
		if err != nil {
			return 0, fmt.Errorf("knowledge: encode: %w", err)
		}
		entries = append(entries, kv.Entry{Key: b.key(sn.Seq), Value: data})
	}
	if err := b.store.BatchSet(ctx, entries); err != nil {
		return 0, fmt.Errorf("knowledge: store: %w", err)
	}
	b.invalidate()
	return len(entries), nil
}

// Search returns up to k snippet texts relevant to query. With an embedder
// they are the k snippets closest to the query's vector; otherwise they
// are ranked by keyword overlap.
func (b *Base) Search(ctx context.Context, query string, k int) ([]string, error) {
	if b.embedder == nil {
		return b.searchKeywords(ctx, query, k)
	}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	q, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		if err := b.loadIndex(ctx); err != nil {
			return nil, err
		}
	}
	matches, err := b.index.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, b.texts[m.ID])
	}
	return out, nil
}

// loadIndex builds the vector index from the stored snippets. Snippets
// stored without a vector are not indexed. b.mu must be held.
func (b *Base) loadIndex(ctx context.Context) error {
	index := vecstore.NewMemory()
	texts := make(map[string]string)
	for e, err := range b.store.List(ctx, b.prefix) {
		if err != nil {
			return fmt.Errorf("knowledge: list: %w", err)
		}
		var sn Snippet
		if err := msgpack.Unmarshal(e.Value, &sn); err != nil {
			return fmt.Errorf("knowledge: decode %s: %w", e.Key, err)
		}
		if len(sn.Vector) == 0 {
			continue
		}
		id := e.Key.String()
		index.Insert(id, sn.Vector)
		texts[id] = sn.Text
	}
	b.index, b.texts = index, texts
	return nil
}

func (b *Base) invalidate() {
	b.mu.Lock()
	b.index, b.texts = nil, nil
	b.mu.Unlock()
}

// searchKeywords returns up to k snippet texts ranked by the fraction of
// query keywords they contain. Snippets with no match are left out; ties
// keep insertion order.
func (b *Base) searchKeywords(ctx context.Context, query string, k int) ([]string, error) {
	terms := keywords(query)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}
	type scored struct {
		sn    Snippet
		score float64
	}
	var hits []scored
	for e, err := range b.store.List(ctx, b.prefix) {
		if err != nil {
			return nil, fmt.Errorf("knowledge: list: %w", err)
		}
		var sn Snippet
		if err := msgpack.Unmarshal(e.Value, &sn); err != nil {
			return nil, fmt.Errorf("knowledge: decode %s: %w", e.Key, err)
		}
		if s := keywordScore(terms, sn.Keywords); s > 0 {
			hits = append(hits, scored{sn, s})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return a.sn.Seq - b.sn.Seq
	})
	out := make([]string, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		out = append(out, h.sn.Text)
	}
	return out, nil
}

// Reset deletes every snippet and returns how many there were.
func (b *Base) Reset(ctx context.Context) (int, error) {
	var keys []kv.Key
	for e, err := range b.store.List(ctx, b.prefix) {
		if err != nil {
			return 0, fmt.Errorf("knowledge: list: %w", err)
		}
		keys = append(keys, e.Key)
	}
	defer b.invalidate()
	for _, k := range keys {
		if err := b.store.Delete(ctx, k); err != nil {
			return 0, fmt.Errorf("knowledge: delete %s: %w", k, err)
		}
	}
	return len(keys), nil
}

// Len returns the number of stored snippets.
func (b *Base) Len(ctx context.Context) (int, error) {
	return b.count(ctx)
}

func (b *Base) count(ctx context.Context) (int, error) {
	n := 0
	for _, err := range b.store.List(ctx, b.prefix) {
		if err != nil {
			return 0, fmt.Errorf("knowledge: list: %w", err)
		}
		n++
	}
	return n, nil
}

// key zero-pads seq so lexicographic order matches insertion order.
func (b *Base) key(seq int) kv.Key {
	return append(slices.Clone(b.prefix), fmt.Sprintf("%08d", seq))
}

func paragraphs(doc string) []string {
	var out []string
	for p := range strings.SplitSeq(strings.ReplaceAll(doc, "\r\n", "\n"), "\n\n") {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "your": true, "with": true, "this": true,
	"that": true, "what": true, "when": true, "how": true, "can": true,
	"does": true, "was": true, "have": true, "from": true, "they": true,
}

// keywords returns the distinct lowercase words of s that are at least three
// characters long and not stop words.
func keywords(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if len([]rune(w)) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func keywordScore(terms, kws []string) float64 {
	hit := 0
	for _, t := range terms {
		if slices.Contains(kws, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}
