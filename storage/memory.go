package storage

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory keeps all records in process memory. It is the default
// backend and the one tests run against.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}}
}

func (m *Memory) Upsert(_ context.Context, records []Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, exists := m.records[r.ID]; !exists {
			m.order = append(m.order, r.ID)
		}
		m.records[r.ID] = r
	}
	return len(records), nil
}

func (m *Memory) Query(_ context.Context, vector []float32, topK int, f Filter) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	matches := make([]Match, 0, topK)
	for _, id := range m.order {
		r := m.records[id]
		if !f.matches(r.Meta) {
			continue
		}
		matches = append(matches, Match{Record: r, Distance: cosineDistance(vector, r.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Fetch(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, id := range m.order {
		r := m.records[id]
		if f.matches(r.Meta) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	deleted := 0
	for _, id := range m.order {
		if f.matches(m.records[id].Meta) {
			delete(m.records, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return deleted, nil
}

func (m *Memory) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if f.matches(r.Meta) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) VideoIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var ids []string
	for _, id := range m.order {
		vid := m.records[id].Meta.VideoID
		if !seen[vid] {
			seen[vid] = true
			ids = append(ids, vid)
		}
	}
	return ids, nil
}

func (m *Memory) Close(context.Context) error { return nil }

// cosineDistance is 1 minus cosine similarity. Zero vectors sit at
// maximum distance so degraded units never outrank real matches.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
