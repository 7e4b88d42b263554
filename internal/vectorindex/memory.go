package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

type entry struct {
	v        []float32
	metadata map[string]string
}

// memoryIndex is a brute-force cosine-similarity index, grounded on the
// teacher's memoryVector, extended with a namespace key.
type memoryIndex struct {
	mu         sync.RWMutex
	dimensions int
	byNS       map[string]map[string]entry
}

// NewMemoryIndex builds an in-memory Index.
func NewMemoryIndex(dimensions int) Index {
	return &memoryIndex{dimensions: dimensions, byNS: make(map[string]map[string]entry)}
}

func (m *memoryIndex) Dimensions() int { return m.dimensions }

func (m *memoryIndex) Add(_ context.Context, namespace, id string, vector []float32, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.byNS[namespace]
	if !ok {
		ns = make(map[string]entry)
		m.byNS[namespace] = ns
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	ns[id] = entry{v: cp, metadata: md}
	return nil
}

func (m *memoryIndex) Remove(_ context.Context, namespace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.byNS[namespace]; ok {
		delete(ns, id)
	}
	return nil
}

func (m *memoryIndex) Search(_ context.Context, namespace string, vector []float32, k int, minScore float64, filter map[string]string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	ns := m.byNS[namespace]
	qnorm := norm(vector)
	out := make([]Result, 0, len(ns))
	for id, e := range ns {
		if !matchesFilter(e.metadata, filter) {
			continue
		}
		s := cosine(vector, e.v, qnorm)
		if s < minScore {
			continue
		}
		out = append(out, Result{ID: id, Score: s, Metadata: e.metadata})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func matchesFilter(md, f map[string]string) bool {
	for k, v := range f {
		if md[k] != v {
			return false
		}
	}
	return true
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
