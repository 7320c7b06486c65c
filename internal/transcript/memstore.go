package transcript

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/asrlink/pkg/protocol"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu        sync.RWMutex
	sentences map[string][]Sentence
	tips      map[string][]Tips
	records   map[string]MedicalRecord
	now       func() time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sentences: make(map[string][]Sentence),
		tips:      make(map[string][]Tips),
		records:   make(map[string]MedicalRecord),
		now:       time.Now,
	}
}

// WriteSentence implements [Store].
func (m *MemStore) WriteSentence(_ context.Context, key Key, s protocol.Sentence) error {
	s.Words = slices.Clone(s.Words)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentences[key.RecordID] = append(m.sentences[key.RecordID], Sentence{Key: key, Sentence: s, ReceivedAt: m.now()})
	return nil
}

// WriteTips implements [Store].
func (m *MemStore) WriteTips(_ context.Context, key Key, tips []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tips[key.RecordID] = append(m.tips[key.RecordID], Tips{Key: key, Tips: slices.Clone(tips), ReceivedAt: m.now()})
	return nil
}

// PutMedicalRecord implements [Store].
func (m *MemStore) PutMedicalRecord(_ context.Context, key Key, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key.RecordID] = MedicalRecord{Key: key, Fields: maps.Clone(fields), UpdatedAt: m.now()}
	return nil
}

// Sentences implements [Store].
func (m *MemStore) Sentences(_ context.Context, recordID string, finalOnly bool) ([]Sentence, error) {
	m.mu.RLock()
	stored := m.sentences[recordID]
	out := make([]Sentence, 0, len(stored))
	for _, s := range stored {
		if finalOnly && !s.IsSent {
			continue
		}
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Sentence) int {
		return cmp.Compare(a.BeginTime, b.BeginTime)
	})
	return out, nil
}

// Tips implements [Store].
func (m *MemStore) Tips(_ context.Context, recordID string) ([]Tips, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tips[recordID]), nil
}

// MedicalRecord implements [Store].
func (m *MemStore) MedicalRecord(_ context.Context, recordID string) (MedicalRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordID]
	if ok {
		rec.Fields = maps.Clone(rec.Fields)
	}
	return rec, ok, nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store]. It is a no-op.
func (m *MemStore) Close() {}
