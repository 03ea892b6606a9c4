package hindsight

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Index defines the interface for embedding-backed text recall.
// Implementations handle the storage and similarity search of indexed
// entries; ArchiveMemory sits on top of one.
type Index interface {
	// Insert embeds and stores a text entry, returning its ID.
	Insert(ctx context.Context, text string) (string, error)

	// Query returns up to limit entries most similar to the query text,
	// best match first.
	Query(ctx context.Context, query string, limit int) ([]IndexEntry, error)

	// Delete removes an entry by ID. Unknown IDs are a no-op.
	Delete(ctx context.Context, id string) error
}

// IndexEntry is one recall result.
type IndexEntry struct {
	ID    string
	Text  string
	Score float32
}

// MemoryIndex is an in-process Index using cosine similarity over embeddings
// from the resolved Embedder. Suitable for tests and small corpora; use the
// soy-backed archive store for anything persistent.
type MemoryIndex struct {
	mu       sync.RWMutex
	embedder Embedder
	entries  map[string]memoryIndexEntry
}

type memoryIndexEntry struct {
	text      string
	embedding []float32
}

// NewMemoryIndex creates an empty in-process index. A nil embedder falls
// back to the context or global embedder at call time.
func NewMemoryIndex(embedder Embedder) *MemoryIndex {
	return &MemoryIndex{
		embedder: embedder,
		entries:  make(map[string]memoryIndexEntry),
	}
}

// Insert implements Index.
func (idx *MemoryIndex) Insert(ctx context.Context, text string) (string, error) {
	embedder, err := ResolveEmbedder(ctx, idx.embedder)
	if err != nil {
		return "", err
	}
	embedding, err := embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed entry: %w", err)
	}

	id := uuid.New().String()
	idx.mu.Lock()
	idx.entries[id] = memoryIndexEntry{text: text, embedding: embedding}
	idx.mu.Unlock()
	return id, nil
}

// Query implements Index.
func (idx *MemoryIndex) Query(ctx context.Context, query string, limit int) ([]IndexEntry, error) {
	embedder, err := ResolveEmbedder(ctx, idx.embedder)
	if err != nil {
		return nil, err
	}
	target, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idx.mu.RLock()
	results := make([]IndexEntry, 0, len(idx.entries))
	for id, e := range idx.entries {
		results = append(results, IndexEntry{
			ID:    id,
			Text:  e.text,
			Score: cosineSimilarity(target, e.embedding),
		})
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete implements Index.
func (idx *MemoryIndex) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
	return nil
}

// Len reports how many entries the index holds.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Index = (*MemoryIndex)(nil)
