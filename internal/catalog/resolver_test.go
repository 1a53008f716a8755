package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryLocal struct {
	mu       sync.Mutex
	products []Product
	calls    [][]string
	failOn   string
}

func (m *memoryLocal) find(codes []string, field func(Product) string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, codes)
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c == m.failOn {
			return nil, errors.New("boom")
		}
		want[c] = struct{}{}
	}
	var out []Product
	// reverse order so ties are not settled by storage order
	for i := len(m.products) - 1; i >= 0; i-- {
		if _, ok := want[field(m.products[i])]; ok {
			out = append(out, m.products[i])
		}
	}
	return out, nil
}

func (m *memoryLocal) FindByCodes(_ context.Context, _ int64, codes []string) ([]Product, error) {
	return m.find(codes, func(p Product) string { return p.Code })
}

func (m *memoryLocal) FindByLegacyCodes(_ context.Context, _ int64, codes []string) ([]Product, error) {
	return m.find(codes, func(p Product) string { return p.LegacyCode })
}

type memoryGlobal struct {
	entries []GlobalProduct
}

func (m *memoryGlobal) FindByCodes(_ context.Context, codes []string) ([]GlobalProduct, error) {
	return m.filter(codes, func(g GlobalProduct) string { return g.Code }), nil
}

func (m *memoryGlobal) FindByLegacyCodes(_ context.Context, codes []string) ([]GlobalProduct, error) {
	return m.filter(codes, func(g GlobalProduct) string { return g.LegacyCode }), nil
}

func (m *memoryGlobal) filter(codes []string, field func(GlobalProduct) string) []GlobalProduct {
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		want[c] = struct{}{}
	}
	var out []GlobalProduct
	for _, g := range m.entries {
		if _, ok := want[field(g)]; ok {
			out = append(out, g)
		}
	}
	return out
}

type countingObserver struct {
	mu     sync.Mutex
	phases map[string]int
}

func (c *countingObserver) ObserveCatalogBatch(phase string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phases == nil {
		c.phases = map[string]int{}
	}
	c.phases[phase]++
}

func TestResolveThousandCodesInFiveBatches(t *testing.T) {
	local := &memoryLocal{}
	codes := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		code := fmt.Sprintf("C%04d", i)
		codes = append(codes, code)
		local.products = append(local.products, Product{ID: int64(i + 1), Code: code, CategoryID: 3})
	}
	obs := &countingObserver{}
	r := NewResolver(local, nil, ResolverConfig{ChunkSize: 200, Fanout: 4, Observer: obs})

	res, err := r.Resolve(context.Background(), 1, codes)
	require.NoError(t, err)
	require.Len(t, res.Resolved, 1000)
	require.Empty(t, res.Unresolved)
	require.Equal(t, int64(5), r.Stats().Batches)
	require.Len(t, local.calls, 5)
	require.Equal(t, 5, obs.phases["local_primary"])
	require.Zero(t, obs.phases["local_legacy"])
}

func TestResolveIsDeterministicAcrossInputOrder(t *testing.T) {
	local := &memoryLocal{products: []Product{
		{ID: 9, Code: "A", CategoryID: 2},
		{ID: 4, Code: "A", CategoryID: 1},
		{ID: 5, Code: "B", CategoryID: 1},
	}}
	r := NewResolver(local, nil, ResolverConfig{ChunkSize: 1, Fanout: 3})

	first, err := r.Resolve(context.Background(), 1, []string{"B", "A", "Z", " A "})
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), 1, []string{"Z", "A", "B"})
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(4), first.Resolved["A"].ProductID)
	require.Equal(t, []string{"Z"}, first.Unresolved)
}

func TestResolveFallsBackToLegacyCodes(t *testing.T) {
	local := &memoryLocal{products: []Product{
		{ID: 1, Code: "NEW-1", LegacyCode: "OLD-1", Label: "Amoxicillin"},
		{ID: 2, Code: "NEW-2"},
	}}
	r := NewResolver(local, nil, ResolverConfig{})

	res, err := r.Resolve(context.Background(), 1, []string{"OLD-1", "NEW-2", "GONE"})
	require.NoError(t, err)
	require.Equal(t, MatchLegacy, res.Resolved["OLD-1"].Source)
	require.Equal(t, int64(1), res.Resolved["OLD-1"].ProductID)
	require.Equal(t, MatchPrimary, res.Resolved["NEW-2"].Source)
	require.Equal(t, []string{"GONE"}, res.Unresolved)
}

func TestResolveUnresolvedAcrossChunksStaySorted(t *testing.T) {
	local := &memoryLocal{products: []Product{{ID: 1, Code: "M"}}}
	r := NewResolver(local, nil, ResolverConfig{ChunkSize: 2, Fanout: 2})

	res, err := r.Resolve(context.Background(), 1, []string{"Q", "M", "D", "A", "X"})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "D", "Q", "X"}, res.Unresolved)
}

func TestResolvePropagatesChunkFailure(t *testing.T) {
	local := &memoryLocal{failOn: "B"}
	r := NewResolver(local, nil, ResolverConfig{ChunkSize: 1})
	_, err := r.Resolve(context.Background(), 1, []string{"A", "B", "C"})
	require.Error(t, err)
}

func TestResolveEmptyInput(t *testing.T) {
	r := NewResolver(&memoryLocal{}, nil, ResolverConfig{})
	res, err := r.Resolve(context.Background(), 1, []string{"", "  "})
	require.NoError(t, err)
	require.Empty(t, res.Resolved)
	require.Zero(t, r.Stats().Batches)
}

func TestLookupGlobal(t *testing.T) {
	global := &memoryGlobal{entries: []GlobalProduct{
		{Code: "G1", Label: "Paracetamol"},
		{Code: "G2", LegacyCode: "L2", Label: "Ibuprofen"},
	}}
	r := NewResolver(&memoryLocal{}, global, ResolverConfig{})

	found, missing, err := r.LookupGlobal(context.Background(), []string{"G1", "L2", "NOPE"})
	require.NoError(t, err)
	require.Equal(t, "Paracetamol", found["G1"].Label)
	require.Equal(t, "Ibuprofen", found["L2"].Label)
	require.Equal(t, []string{"NOPE"}, missing)

	withoutGlobal := NewResolver(&memoryLocal{}, nil, ResolverConfig{})
	found, missing, err = withoutGlobal.LookupGlobal(context.Background(), []string{"G1"})
	require.NoError(t, err)
	require.Empty(t, found)
	require.Equal(t, []string{"G1"}, missing)
}
