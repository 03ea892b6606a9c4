package hindsight

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/soy"
)

// ModuleRecord is the persisted form of a serialized module. Fields hold the
// module's Serialize output as JSON; providers, embedders, and indexes are
// ambient and never stored.
type ModuleRecord struct {
	ID        string    `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	SessionID string    `db:"session_id" type:"text" constraints:"notnull"`
	Kind      string    `db:"kind" type:"text" constraints:"notnull"`
	Name      string    `db:"name" type:"text" constraints:"notnull"`
	Fields    string    `db:"fields" type:"jsonb" constraints:"notnull"`
	CreatedAt time.Time `db:"created_at" type:"timestamp" constraints:"notnull"`
}

// ArchiveRecord is one indexed archive entry with its embedding.
type ArchiveRecord struct {
	ID        string    `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	SessionID string    `db:"session_id" type:"text" constraints:"notnull"`
	Content   string    `db:"content" type:"text" constraints:"notnull"`
	Embedding Vector    `db:"embedding" type:"vector(1536)"`
	CreatedAt time.Time `db:"created_at" type:"timestamp" constraints:"notnull"`
}

// GraphStore persists modules and archive entries using soy over PostgreSQL,
// with pgvector for archive similarity search. Sessions group everything
// belonging to one reasoning graph.
type GraphStore struct {
	modules *soy.Soy[ModuleRecord]
	archive *soy.Soy[ArchiveRecord]
	db      *sqlx.DB
}

// NewGraphStore creates a soy-backed store.
func NewGraphStore(db *sqlx.DB) (*GraphStore, error) {
	renderer := postgres.New()

	modules, err := soy.New[ModuleRecord](db, "modules", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize modules table: %w", err)
	}

	archive, err := soy.New[ArchiveRecord](db, "archive", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive table: %w", err)
	}

	return &GraphStore{
		modules: modules,
		archive: archive,
		db:      db,
	}, nil
}

// SaveModule serializes a module and writes it under the session.
func (s *GraphStore) SaveModule(ctx context.Context, sessionID string, m Module) (*ModuleRecord, error) {
	fields, err := json.Marshal(m.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal module %s: %w", m.Name(), err)
	}

	record := &ModuleRecord{
		SessionID: sessionID,
		Kind:      m.Kind(),
		Name:      m.Name(),
		Fields:    string(fields),
		CreatedAt: time.Now(),
	}
	inserted, err := s.modules.Insert().Exec(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to insert module: %w", err)
	}

	capitan.Emit(ctx, ModuleSaved,
		FieldSession.Field(sessionID),
		FieldKind.Field(m.Kind()),
		FieldModule.Field(m.Name()),
	)
	return inserted, nil
}

// LoadModules reconstructs every module saved under the session, oldest
// first. A record whose kind is unregistered or whose fields no longer match
// fails the load; stored state must round-trip exactly.
func (s *GraphStore) LoadModules(ctx context.Context, sessionID string) ([]Module, error) {
	records, err := s.modules.Query().
		Where("session_id", "=", "session_id").
		OrderBy("created_at", "asc").
		Exec(ctx, map[string]any{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}

	result := make([]Module, 0, len(records))
	for _, record := range records {
		var fields map[string]any
		if err := json.Unmarshal([]byte(record.Fields), &fields); err != nil {
			return nil, &ReconstructionError{Kind: record.Kind, Err: fmt.Errorf("invalid stored fields: %w", err)}
		}
		m, err := Reconstruct(record.Kind, fields)
		if err != nil {
			return nil, err
		}
		capitan.Emit(ctx, ModuleRestored,
			FieldSession.Field(sessionID),
			FieldKind.Field(record.Kind),
			FieldModule.Field(record.Name),
		)
		result = append(result, m)
	}
	return result, nil
}

// DeleteSession removes every module and archive entry under the session.
func (s *GraphStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.archive.Remove().
		Where("session_id", "=", "session_id").
		Exec(ctx, map[string]any{"session_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete archive entries: %w", err)
	}
	if _, err := s.modules.Remove().
		Where("session_id", "=", "session_id").
		Exec(ctx, map[string]any{"session_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete modules: %w", err)
	}
	return nil
}

// InsertArchive embeds and stores text under the session.
func (s *GraphStore) InsertArchive(ctx context.Context, sessionID, text string, embedding Vector) (*ArchiveRecord, error) {
	record := &ArchiveRecord{
		SessionID: sessionID,
		Content:   text,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}
	inserted, err := s.archive.Insert().Exec(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to insert archive entry: %w", err)
	}
	return inserted, nil
}

// SearchArchive returns the session's entries nearest the query embedding,
// closest first.
func (s *GraphStore) SearchArchive(ctx context.Context, sessionID string, embedding Vector, limit int) ([]*ArchiveRecord, error) {
	records, err := s.archive.Query().
		Where("session_id", "=", "session_id").
		WhereNotNull("embedding").
		OrderByExpr("embedding", "<->", "query_embedding", "asc").
		Limit(limit).
		Exec(ctx, map[string]any{
			"session_id":      sessionID,
			"query_embedding": embedding,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to search archive: %w", err)
	}
	return records, nil
}

// DeleteArchive removes one archive entry by ID.
func (s *GraphStore) DeleteArchive(ctx context.Context, id string) error {
	if _, err := s.archive.Remove().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("failed to delete archive entry: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *GraphStore) Close() error {
	return s.db.Close()
}

// StoreIndex adapts one GraphStore session into an [Index], so an
// ArchiveMemory can recall against PostgreSQL instead of process memory.
type StoreIndex struct {
	store     *GraphStore
	sessionID string
	embedder  Embedder
}

// NewStoreIndex creates an Index over one session of a GraphStore. A nil
// embedder falls back to the context or global embedder at call time.
func NewStoreIndex(store *GraphStore, sessionID string, embedder Embedder) *StoreIndex {
	return &StoreIndex{store: store, sessionID: sessionID, embedder: embedder}
}

// Insert implements Index.
func (idx *StoreIndex) Insert(ctx context.Context, text string) (string, error) {
	embedder, err := ResolveEmbedder(ctx, idx.embedder)
	if err != nil {
		return "", err
	}
	embedding, err := embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed entry: %w", err)
	}
	record, err := idx.store.InsertArchive(ctx, idx.sessionID, text, NewVector(embedding))
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// Query implements Index. Scores are negated result ranks (best match scores
// 0, the next -1, and so on), so closer entries still sort higher.
func (idx *StoreIndex) Query(ctx context.Context, query string, limit int) ([]IndexEntry, error) {
	embedder, err := ResolveEmbedder(ctx, idx.embedder)
	if err != nil {
		return nil, err
	}
	embedding, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	records, err := idx.store.SearchArchive(ctx, idx.sessionID, NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	results := make([]IndexEntry, len(records))
	for i, record := range records {
		results[i] = IndexEntry{
			ID:    record.ID,
			Text:  record.Content,
			Score: float32(-i),
		}
	}
	return results, nil
}

// Delete implements Index.
func (idx *StoreIndex) Delete(ctx context.Context, id string) error {
	return idx.store.DeleteArchive(ctx, id)
}

var _ Index = (*StoreIndex)(nil)
