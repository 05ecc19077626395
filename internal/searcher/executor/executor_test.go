package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

func newTestExecutor(t *testing.T, docs map[string]string) (*Executor, *index.Index) {
	t.Helper()
	idx := index.New()
	for id, text := range docs {
		require.NoError(t, idx.Update(id, 1, tokenizer.Tokenize(text)))
	}
	tok := tokenizer.New(tokenizer.Options{})
	return New(idx, parser.New(tok), config.SearchConfig{DefaultLimit: 10, MaxResults: 50}), idx
}

func docIDs(res *SearchResult) []string {
	out := make([]string, len(res.Results))
	for i, r := range res.Results {
		out[i] = r.DocID
	}
	return out
}

func TestScenarioQuickFoxLazyDog(t *testing.T) {
	ex, _ := newTestExecutor(t, map[string]string{
		"d1": "the quick fox",
		"d2": "the lazy dog",
	})
	ctx := context.Background()

	res, err := ex.Search(ctx, "fox", 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"d1"}, docIDs(res))
	assert.Greater(t, res.Results[0].Score, 0.0)
	assert.Equal(t, 1, res.Total)

	res, err = ex.Search(ctx, "the", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, docIDs(res))
	assert.Equal(t, res.Results[0].Score, res.Results[1].Score, "equal scores tie-break on id")
	assert.Greater(t, res.Results[0].Score, 0.0)
}

func TestEmptyQuery(t *testing.T) {
	ex, _ := newTestExecutor(t, map[string]string{"d1": "anything"})
	for _, q := range []string{"", "   ", "?!"} {
		res, err := ex.Search(context.Background(), q, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		assert.NotNil(t, res.Results)
		assert.Zero(t, res.Total)
	}
}

func TestBooleanWithAbsentTerm(t *testing.T) {
	ex, _ := newTestExecutor(t, map[string]string{
		"d1": "alpha beta",
		"d2": "alpha",
		"d3": "gamma",
	})
	ctx := context.Background()

	res, err := ex.Search(ctx, "alpha AND zzzabsent", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.Total)

	res, err = ex.Search(ctx, "alpha OR zzzabsent", 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d2"}, docIDs(res))

	res, err = ex.Search(ctx, "zzzabsent", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestBooleanOperators(t *testing.T) {
	ex, _ := newTestExecutor(t, map[string]string{
		"d1": "alpha beta",
		"d2": "alpha gamma",
		"d3": "beta gamma",
	})
	ctx := context.Background()

	tests := []struct {
		query string
		want  []string
	}{
		{"alpha beta", []string{"d1"}},
		{"alpha NOT beta", []string{"d2"}},
		{"alpha -gamma", []string{"d1"}},
		{"NOT alpha", []string{"d3"}},
		{"(alpha OR beta) AND gamma", []string{"d2", "d3"}},
		{"alpha OR beta OR gamma", []string{"d1", "d2", "d3"}},
		{"NOT alpha OR NOT beta", []string{"d2", "d3"}},
		{"NOT (alpha OR beta OR gamma)", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := ex.Search(ctx, tt.query, 10, 0)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, docIDs(res))
			assert.Equal(t, len(tt.want), res.Total)
		})
	}
}

func TestPhrase(t *testing.T) {
	ex, _ := newTestExecutor(t, map[string]string{
		"d1": "the quick brown fox",
		"d2": "brown quick fox",
		"d3": "a quick, brown dog",
	})
	ctx := context.Background()

	res, err := ex.Search(ctx, `"quick brown"`, 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d3"}, docIDs(res))

	res, err = ex.Search(ctx, `"quick brown fox"`, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, docIDs(res))

	res, err = ex.Search(ctx, `"fox quick"`, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestTombstonesFiltered(t *testing.T) {
	ex, idx := newTestExecutor(t, map[string]string{
		"d1": "shared unique1",
		"d2": "shared",
	})
	require.NoError(t, idx.Delete("d1", 2))

	res, err := ex.Search(context.Background(), "shared", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, docIDs(res))

	res, err = ex.Search(context.Background(), "NOT unique1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, docIDs(res))
}

func TestRankingPrefersHigherFrequency(t *testing.T) {
	ex, _ := newTestExecutor(t, map[string]string{
		"a": "note about go",
		"b": "go go go note",
		"c": "unrelated text here",
	})
	res, err := ex.Search(context.Background(), "go", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, docIDs(res))
	assert.Greater(t, res.Results[0].Score, res.Results[1].Score)
}

func TestPagination(t *testing.T) {
	docs := map[string]string{}
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		docs[id] = "common"
	}
	ex, _ := newTestExecutor(t, docs)
	ctx := context.Background()

	res, err := ex.Search(ctx, "common", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d3"}, docIDs(res))
	assert.Equal(t, 5, res.Total)

	res, err = ex.Search(ctx, "common", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, 5, res.Total)

	res, err = ex.Search(ctx, "common", 0, 0)
	require.NoError(t, err)
	assert.Len(t, res.Results, 5, "zero limit uses the default")

	_, err = ex.Search(ctx, "common", 10, -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestInvalidQuery(t *testing.T) {
	ex, _ := newTestExecutor(t, nil)
	_, err := ex.Search(context.Background(), `"unterminated`, 10, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
}

func TestCancelledContext(t *testing.T) {
	ex, idx := newTestExecutor(t, map[string]string{"d1": "alpha"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Search(ctx, "alpha", 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), idx.LiveSnapshots(), "snapshot released on cancellation")
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*SearchResult
	hits    int
}

func (c *mapCache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (*SearchResult, error)) (*SearchResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.entries[key]; ok {
		c.hits++
		return r, true, nil
	}
	r, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	c.entries[key] = r
	return r, false, nil
}

func TestCacheKeyedByGeneration(t *testing.T) {
	ex, idx := newTestExecutor(t, map[string]string{"d1": "alpha"})
	cache := &mapCache{entries: map[string]*SearchResult{}}
	ex.WithCache(cache)
	ctx := context.Background()

	_, err := ex.Search(ctx, "alpha", 10, 0)
	require.NoError(t, err)
	res, err := ex.Search(ctx, "ALPHA", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "equivalent queries share a key")
	assert.Equal(t, "ALPHA", res.Query)

	require.NoError(t, idx.Update("d2", 1, tokenizer.Tokenize("alpha")))
	res, err = ex.Search(ctx, "alpha", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "a new generation misses")
	assert.Equal(t, []string{"d1", "d2"}, docIDs(res))
}

func TestConcurrentSearchDuringIngest(t *testing.T) {
	ex, idx := newTestExecutor(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := int64(1); v <= 200; v++ {
			text := "left right"
			if v%2 == 0 {
				text = "middle"
			}
			if err := idx.Update("doc", v, tokenizer.Tokenize(text)); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				res, err := ex.Search(ctx, "left OR right OR middle", 10, 0)
				if err != nil {
					t.Error(err)
					return
				}
				if res.Total > 1 {
					t.Errorf("duplicate hits: %v", res.Results)
				}
				torn, err := ex.Search(ctx, "left NOT right", 10, 0)
				if err != nil {
					t.Error(err)
					return
				}
				if torn.Total != 0 {
					t.Errorf("observed half-applied document at generation %d", torn.Generation)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), idx.LiveSnapshots())
}
