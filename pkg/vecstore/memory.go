package vecstore

import (
	"cmp"
	"math"
	"slices"
	"sync"
)

// Memory is a brute-force in-memory Index ranked by cosine distance. It
// suits the few hundred snippets a persona carries.
type Memory struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

var _ Index = (*Memory)(nil)

// NewMemory returns an empty index.
func NewMemory() *Memory {
	return &Memory{vectors: make(map[string][]float32)}
}

func (m *Memory) Insert(id string, vector []float32) error {
	m.mu.Lock()
	m.vectors[id] = slices.Clone(vector)
	m.mu.Unlock()
	return nil
}

// Search ranks every vector against query. Equal distances are ordered by
// id.
func (m *Memory) Search(query []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topK <= 0 || len(m.vectors) == 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(m.vectors))
	for id, v := range m.vectors {
		matches = append(matches, Match{ID: id, Distance: CosineDistance(query, v)})
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return matches[:min(topK, len(matches))], nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	delete(m.vectors, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// CosineDistance returns 1 minus the cosine similarity of a and b, in
// [0, 2]. Vectors of different lengths or with zero norm are at distance 2.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(1 - max(-1, min(1, sim)))
}
