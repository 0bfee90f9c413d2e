package registry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hashA = strings.Repeat("a", 64)
	hashB = strings.Repeat("b", 64)
)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func TestMemoryInsertAssignsFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithMemoryClock(fixedClock(now)))

	sig, err := m.Insert(context.Background(), Signature{
		DNAHash: hashA,
		Tags:    []string{" bot ", "sybil", "bot", ""},
		Source:  " manual ",
	})
	require.NoError(t, err)

	_, err = uuid.Parse(sig.ID)
	assert.NoError(t, err)
	assert.Equal(t, now, sig.AddedAt)
	assert.Equal(t, []string{"bot", "sybil"}, sig.Tags)
	assert.Equal(t, "manual", sig.Source)
}

func TestMemoryAutoIDsAreUnique(t *testing.T) {
	m := NewMemory()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		sig, err := m.Insert(context.Background(), Signature{DNAHash: hashA})
		require.NoError(t, err)
		require.False(t, seen[sig.ID], "duplicate id %s", sig.ID)
		seen[sig.ID] = true
	}
}

func TestMemoryRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.NewString()

	_, err := m.Insert(ctx, Signature{ID: id, DNAHash: hashA, Tags: []string{"first"}})
	require.NoError(t, err)
	_, err = m.Insert(ctx, Signature{ID: strings.ToUpper(id), DNAHash: hashB})
	assert.ErrorIs(t, err, ErrDuplicateID)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"first"}, all[0].Tags)
	_, err = m.Lookup(ctx, hashB)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLookupReturnsEarliest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.Insert(ctx, Signature{DNAHash: hashA, Tags: []string{"first"}})
	require.NoError(t, err)
	_, err = m.Insert(ctx, Signature{DNAHash: hashA, Tags: []string{"second"}})
	require.NoError(t, err)

	got, err := m.Lookup(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	_, err = m.Lookup(ctx, hashB)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"first"}, all[0].Tags)
	assert.Equal(t, []string{"second"}, all[1].Tags)
}

func TestMemoryRejectsInvalidInput(t *testing.T) {
	m := NewMemory()

	_, err := m.Insert(context.Background(), Signature{DNAHash: "ABC"})
	assert.ErrorIs(t, err, ErrInvalidDNAHash)

	_, err = m.Insert(context.Background(), Signature{DNAHash: hashA, ID: "not-a-uuid"})
	assert.Error(t, err)

	all, _ := m.List(context.Background())
	assert.Empty(t, all)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Insert(ctx, Signature{DNAHash: hashA, Tags: []string{"bot"}})
	require.NoError(t, err)

	all, _ := m.List(ctx)
	all[0].Tags[0] = "mutated"
	got, _ := m.Lookup(ctx, hashA)
	got.Tags[0] = "also mutated"
	assert.Equal(t, "also mutated", got.Tags[0])

	again, err := m.Lookup(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, []string{"bot"}, again.Tags)
}

func TestMemoryConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Insert(ctx, Signature{DNAHash: hashB})
			_, _ = m.Lookup(ctx, hashB)
		}()
	}
	wg.Wait()

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestValidateDNAHash(t *testing.T) {
	assert.NoError(t, ValidateDNAHash(hashA))
	assert.ErrorIs(t, ValidateDNAHash(strings.Repeat("A", 64)), ErrInvalidDNAHash)
	assert.ErrorIs(t, ValidateDNAHash(hashA[:63]), ErrInvalidDNAHash)
	assert.ErrorIs(t, ValidateDNAHash(""), ErrInvalidDNAHash)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "cassandra", "", "", nil)
	assert.ErrorContains(t, err, "unknown backend")

	reg, err := Open(context.Background(), BackendMemory, "", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, reg)

	_, err = Open(context.Background(), BackendPostgres, "", "", nil)
	assert.ErrorContains(t, err, "DATABASE_URL")
	_, err = Open(context.Background(), BackendRedis, "", "", nil)
	assert.ErrorContains(t, err, "REDIS_URL")
}
