package hindsight

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zoobzio/capitan"
)

// RecentMemory keeps a sliding window of recent exchanges. It is
// forward-only: window snapshots suspend into frames with no backward phase,
// so corrections never flow into history. What was observed stays observed.
type RecentMemory struct {
	name   string
	window int

	mu      sync.Mutex
	entries []string
}

// NewRecentMemory creates a sliding-window memory.
func NewRecentMemory(name string) *RecentMemory {
	return &RecentMemory{
		name:   name,
		window: DefaultWindowSize,
	}
}

// WithWindow sets how many exchanges the memory retains.
func (m *RecentMemory) WithWindow(n int) *RecentMemory {
	if n > 0 {
		m.window = n
	}
	return m
}

// Observe appends an exchange, evicting the oldest beyond the window.
func (m *RecentMemory) Observe(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, text)
	if len(m.entries) > m.window {
		m.entries = m.entries[len(m.entries)-m.window:]
	}
}

// Entries returns the retained exchanges, oldest first.
func (m *RecentMemory) Entries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	copy(out, m.entries)
	return out
}

// Window snapshots the current window into a forward-only frame on g. The
// returned variable's text is the retained exchanges joined oldest first.
func (m *RecentMemory) Window(g *Graph, name string) *Variable {
	snapshot := strings.Join(m.Entries(), "\n")
	return g.Suspend(m.name, name, snapshot, nil)
}

// Kind implements Module.
func (m *RecentMemory) Kind() string {
	return "recent-memory"
}

// Name implements Module.
func (m *RecentMemory) Name() string {
	return m.name
}

// Serialize implements Module.
func (m *RecentMemory) Serialize() map[string]any {
	return map[string]any{
		"name":    m.name,
		"window":  m.window,
		"entries": m.Entries(),
	}
}

// ArchiveMemory provides long-term semantic recall over an [Index]. Indexed
// text persists for the life of the index; recalls suspend into forward-only
// frames so corrections stop at the archive boundary.
//
// The index is ambient infrastructure like providers and embedders: it is
// not serialized, and a reconstructed archive must be given one via
// [ArchiveMemory.WithIndex] before use.
type ArchiveMemory struct {
	name  string
	limit int
	index Index
}

// NewArchiveMemory creates an archive over the given index.
func NewArchiveMemory(name string, index Index) *ArchiveMemory {
	return &ArchiveMemory{
		name:  name,
		limit: DefaultRecallLimit,
		index: index,
	}
}

// WithLimit sets how many entries a recall returns.
func (m *ArchiveMemory) WithLimit(n int) *ArchiveMemory {
	if n > 0 {
		m.limit = n
	}
	return m
}

// WithIndex attaches the backing index.
func (m *ArchiveMemory) WithIndex(index Index) *ArchiveMemory {
	m.index = index
	return m
}

// Remember embeds and indexes text for later recall.
func (m *ArchiveMemory) Remember(ctx context.Context, text string) (string, error) {
	if m.index == nil {
		return "", fmt.Errorf("archive %s: no index attached", m.name)
	}
	id, err := m.index.Insert(ctx, text)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", m.name, err)
	}
	capitan.Emit(ctx, ArchiveIndexed,
		FieldModule.Field(m.name),
		FieldVariableID.Field(id),
	)
	return id, nil
}

// Recall queries the index with the query variable's text and suspends the
// rendered matches into a forward-only frame on g.
func (m *ArchiveMemory) Recall(ctx context.Context, g *Graph, name string, query *Variable) (*Variable, error) {
	if m.index == nil {
		return nil, &ForwardError{Module: m.name, Err: fmt.Errorf("no index attached")}
	}
	text := variableText(query)

	matches, err := m.index.Query(ctx, text, m.limit)
	if err != nil {
		return nil, &ForwardError{Module: m.name, Err: err}
	}

	capitan.Emit(ctx, ArchiveRecalled,
		FieldModule.Field(m.name),
		FieldMatchCount.Field(len(matches)),
	)

	var b strings.Builder
	for _, match := range matches {
		b.WriteString(match.Text)
		b.WriteByte('\n')
	}
	return g.Suspend(m.name, name, strings.TrimRight(b.String(), "\n"), nil, query), nil
}

// Kind implements Module.
func (m *ArchiveMemory) Kind() string {
	return "archive-memory"
}

// Name implements Module.
func (m *ArchiveMemory) Name() string {
	return m.name
}

// Serialize implements Module.
func (m *ArchiveMemory) Serialize() map[string]any {
	return map[string]any{
		"name":  m.name,
		"limit": m.limit,
	}
}

func init() {
	RegisterKind("recent-memory", func(fields map[string]any) (Module, error) {
		name, err := StringField(fields, "name")
		if err != nil {
			return nil, err
		}
		window, err := IntField(fields, "window")
		if err != nil {
			return nil, err
		}
		entries, err := StringsField(fields, "entries")
		if err != nil {
			return nil, err
		}
		m := NewRecentMemory(name).WithWindow(window)
		for _, e := range entries {
			m.Observe(e)
		}
		return m, nil
	})

	RegisterKind("archive-memory", func(fields map[string]any) (Module, error) {
		name, err := StringField(fields, "name")
		if err != nil {
			return nil, err
		}
		limit, err := IntField(fields, "limit")
		if err != nil {
			return nil, err
		}
		return NewArchiveMemory(name, nil).WithLimit(limit), nil
	})
}

var (
	_ Module = (*RecentMemory)(nil)
	_ Module = (*ArchiveMemory)(nil)
)
