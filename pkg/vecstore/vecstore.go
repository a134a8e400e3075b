// Package vecstore provides nearest-neighbor search over dense vectors.
package vecstore

// Index is a nearest-neighbor index keyed by string ids. Implementations
// are safe for concurrent use.
type Index interface {
	// Insert adds or replaces the vector stored under id.
	Insert(id string, vector []float32) error

	// Search returns up to topK matches, closest first.
	Search(query []float32, topK int) ([]Match, error)

	// Delete removes id. Deleting a missing id is not an error.
	Delete(id string) error

	// Len returns the number of stored vectors.
	Len() int
}

// Match is one search result. Lower distances are more similar.
type Match struct {
	ID       string
	Distance float32
}
