package storage

import (
	"context"
	"sync"
	"time"

	"price-divergence/internal/sample"
)

// MemoryStore keeps records in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []StoredRecord
	nextID  int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// OpenSession never fails.
func (m *MemoryStore) OpenSession(context.Context) (Session, error) {
	return memorySession{store: m}, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// Records returns a copy of everything persisted so far, in insertion order.
func (m *MemoryStore) Records() []StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MemoryStore) append(obs sample.PairedObservation) StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record := recordFromObservation(m.nextID, obs)
	m.records = append(m.records, record)
	return record
}

func (m *MemoryStore) average(from, to time.Time) WindowAverage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refSum, trackedSum float64
	var refN, trackedN int
	for _, r := range m.records {
		if within(r.ReferenceTradeTime, from, to) {
			refSum += r.ReferencePrice
			refN++
		}
		if within(r.TrackedTradeTime, from, to) {
			trackedSum += r.TrackedPrice
			trackedN++
		}
	}

	var avg WindowAverage
	if refN > 0 {
		v := refSum / float64(refN)
		avg.Reference = &v
	}
	if trackedN > 0 {
		v := trackedSum / float64(trackedN)
		avg.Tracked = &v
	}
	return avg
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

type memorySession struct {
	store *MemoryStore
}

func (s memorySession) AppendObservation(ctx context.Context, obs sample.PairedObservation) (StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return StoredRecord{}, err
	}
	return s.store.append(obs), nil
}

func (s memorySession) AverageOverWindow(ctx context.Context, from, to time.Time) (WindowAverage, error) {
	if err := ctx.Err(); err != nil {
		return WindowAverage{}, err
	}
	return s.store.average(from, to), nil
}

func (s memorySession) Close() {}

var _ Backend = (*MemoryStore)(nil)
