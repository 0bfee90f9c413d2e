package registry

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process registry.
type Memory struct {
	mu      sync.RWMutex
	entries []Signature
	first   map[string]int
	ids     map[string]struct{}
	clock   Clock
}

// MemoryOption configures a Memory registry.
type MemoryOption func(*Memory)

// WithMemoryClock sets the clock used to stamp AddedAt.
func WithMemoryClock(clock Clock) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		first: make(map[string]int),
		ids:   make(map[string]struct{}),
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Memory) Lookup(_ context.Context, dnaHash string) (Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.first[dnaHash]
	if !ok {
		return Signature{}, ErrNotFound
	}
	return cloneSignature(m.entries[i]), nil
}

func (m *Memory) Insert(_ context.Context, sig Signature) (Signature, error) {
	sig, err := prepare(sig, m.clock)
	if err != nil {
		return Signature{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[sig.ID]; ok {
		return Signature{}, ErrDuplicateID
	}
	m.ids[sig.ID] = struct{}{}
	m.entries = append(m.entries, cloneSignature(sig))
	if _, ok := m.first[sig.DNAHash]; !ok {
		m.first[sig.DNAHash] = len(m.entries) - 1
	}
	return cloneSignature(sig), nil
}

func (m *Memory) List(_ context.Context) ([]Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Signature, len(m.entries))
	for i, s := range m.entries {
		out[i] = cloneSignature(s)
	}
	return out, nil
}
