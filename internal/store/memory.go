package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Record is the durable form of one document.
type Record struct {
	Path       string
	Collection string
	Seq        int64
	Fields     Fields
}

// Journal persists documents written to a Memory store so they can be
// replayed after a restart.
type Journal interface {
	Put(ctx context.Context, rec Record) error
	Load(ctx context.Context) ([]Record, error)
}

type Option func(*Memory)

// WithJournal writes every document through to j before applying it.
func WithJournal(j Journal) Option {
	return func(m *Memory) { m.journal = j }
}

// WithIDFunc overrides how document ids are generated.
func WithIDFunc(fn func(collection string) string) Option {
	return func(m *Memory) { m.newID = fn }
}

type document struct {
	fields Fields
	seq    int64
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	docs         map[string]*document
	collections  map[string][]string
	docWatchers  map[string]map[*Notifier]struct{}
	collWatchers map[string]map[*Notifier]struct{}
	seq          int64
	closed       bool

	journal Journal
	newID   func(collection string) string
}

// NewMemory creates an empty store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		docs:         make(map[string]*document),
		collections:  make(map[string][]string),
		docWatchers:  make(map[string]map[*Notifier]struct{}),
		collWatchers: make(map[string]map[*Notifier]struct{}),
		newID:        func(string) string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore replays the journal into the store. It must be called before the
// store is shared.
func (m *Memory) Restore(ctx context.Context) (int, error) {
	if m.journal == nil {
		return 0, nil
	}
	records, err := m.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if _, ok := m.docs[rec.Path]; !ok {
			m.collections[rec.Collection] = append(m.collections[rec.Collection], rec.Path)
		}
		m.docs[rec.Path] = &document{fields: rec.Fields, seq: rec.Seq}
		if rec.Seq > m.seq {
			m.seq = rec.Seq
		}
	}
	return len(records), nil
}

func (m *Memory) NewDocID(ctx context.Context, collection string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	return m.freeIDLocked(collection), nil
}

func (m *Memory) freeIDLocked(collection string) string {
	for {
		id := m.newID(collection)
		if _, taken := m.docs[Join(collection, id)]; !taken {
			return id
		}
	}
}

func (m *Memory) Set(ctx context.Context, path string, fields Fields, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, _, err := SplitDocument(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.setLocked(ctx, path, collection, fields, merge)
}

func (m *Memory) setLocked(ctx context.Context, path, collection string, fields Fields, merge bool) error {
	existing, found := m.docs[path]

	var next Fields
	if merge && found {
		next = existing.fields.Clone()
		for k, v := range fields {
			next[k] = v
		}
	} else {
		next = fields.Clone()
		if next == nil {
			next = Fields{}
		}
	}

	seq := m.seq + 1
	if found {
		seq = existing.seq
	}

	if m.journal != nil {
		rec := Record{Path: path, Collection: collection, Seq: seq, Fields: next}
		if err := m.journal.Put(ctx, rec); err != nil {
			return fmt.Errorf("journal %s: %w", path, err)
		}
	}

	if !found {
		m.seq = seq
		m.collections[collection] = append(m.collections[collection], path)
	}
	m.docs[path] = &document{fields: next, seq: seq}

	snap := snapshotOf(path, next, true)
	for n := range m.docWatchers[path] {
		n.Push(snap)
	}
	if !found {
		for n := range m.collWatchers[collection] {
			n.Push(snap)
		}
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if _, _, err := SplitDocument(path); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(path), nil
}

func (m *Memory) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	id := m.freeIDLocked(collection)
	if err := m.setLocked(ctx, Join(collection, id), collection, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) WatchDocument(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := SplitDocument(path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	n := NewNotifier(fn)
	if m.docWatchers[path] == nil {
		m.docWatchers[path] = make(map[*Notifier]struct{})
	}
	m.docWatchers[path][n] = struct{}{}
	n.Push(m.snapshotLocked(path))

	return &memorySub{m: m, n: n, key: path, set: m.docWatchers}, nil
}

func (m *Memory) WatchCollection(ctx context.Context, collection string, fn func(Snapshot)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	n := NewNotifier(fn)
	if m.collWatchers[collection] == nil {
		m.collWatchers[collection] = make(map[*Notifier]struct{})
	}
	m.collWatchers[collection][n] = struct{}{}
	for _, path := range m.collections[collection] {
		n.Push(m.snapshotLocked(path))
	}

	return &memorySub{m: m, n: n, key: collection, set: m.collWatchers}, nil
}

// Close cancels every watch. Further operations return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, set := range []map[string]map[*Notifier]struct{}{m.docWatchers, m.collWatchers} {
		for key, watchers := range set {
			for n := range watchers {
				n.Cancel()
			}
			delete(set, key)
		}
	}
	return nil
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	doc, ok := m.docs[path]
	if !ok {
		return snapshotOf(path, nil, false)
	}
	return snapshotOf(path, doc.fields, true)
}

func snapshotOf(path string, fields Fields, exists bool) Snapshot {
	_, id, _ := SplitDocument(path)
	return Snapshot{ID: id, Path: path, Fields: fields.Clone(), Exists: exists}
}

type memorySub struct {
	m    *Memory
	n    *Notifier
	key  string
	set  map[string]map[*Notifier]struct{}
	once sync.Once
}

func (s *memorySub) Cancel() {
	s.once.Do(func() {
		s.n.Cancel()
		s.m.mu.Lock()
		defer s.m.mu.Unlock()
		if watchers, ok := s.set[s.key]; ok {
			delete(watchers, s.n)
			if len(watchers) == 0 {
				delete(s.set, s.key)
			}
		}
	})
}
