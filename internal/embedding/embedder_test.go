package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragterm/internal/domain"
)

// fakeEmbedder maps each text to a vector derived from its length and
// rejects any text containing "INVALID".
type fakeEmbedder struct {
	calls atomic.Int32
	dim   int
	mu    sync.Mutex
	seen  [][]string
}

func (f *fakeEmbedder) Model() string { return "fake" }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, append([]string(nil), texts...))
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "INVALID") {
			return nil, domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, "fake", "input rejected", nil)
		}
		dim := f.dim
		if dim == 0 {
			dim = 4
		}
		v := make([]float32, dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{ID: fmt.Sprintf("doc.md#%d", i), Text: strings.Repeat("x", i+1)}
	}
	return out
}

func TestEmbedAll_PreservesOrderAcrossConcurrentBatches(t *testing.T) {
	// Given 25 items in batches of 4 with 3 batches in flight
	f := &fakeEmbedder{}
	b := NewBatcher(f, BatchConfig{BatchSize: 4, Concurrency: 3})

	var progressCalls atomic.Int32
	var lastDone atomic.Int32

	// When embedding everything
	vecs, err := b.EmbedAll(context.Background(), items(25), func(done, total int) {
		progressCalls.Add(1)
		lastDone.Store(int32(done))
		assert.Equal(t, 25, total)
	})

	// Then vectors line up with inputs
	require.NoError(t, err)
	require.Len(t, vecs, 25)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
	assert.Equal(t, int32(7), f.calls.Load())
	assert.Equal(t, int32(7), progressCalls.Load())
	assert.Equal(t, int32(25), lastDone.Load())
}

func TestEmbedAll_FailingBatchFailsWholeCall(t *testing.T) {
	// Given ten chunks where one is rejected by the provider
	in := items(10)
	in[6].Text = "INVALID bytes"
	b := NewBatcher(&fakeEmbedder{}, BatchConfig{BatchSize: 10})

	// When embedding
	vecs, err := b.EmbedAll(context.Background(), in, nil)

	// Then nothing is returned and the error names the batch's items
	assert.Nil(t, vecs)
	require.ErrorIs(t, err, &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonPermanent})
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Len(t, de.Ref, 10)
	assert.Contains(t, de.Ref, "doc.md#6")
	assert.Contains(t, err.Error(), "batch 0")
}

func TestEmbedAll_CountMismatchIsError(t *testing.T) {
	b := NewBatcher(shortEmbedder{}, BatchConfig{BatchSize: 5})

	_, err := b.EmbedAll(context.Background(), items(5), nil)

	assert.ErrorIs(t, err, domain.ErrEmbedding)
}

func TestEmbedAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBatcher(&fakeEmbedder{}, BatchConfig{BatchSize: 2}).EmbedAll(ctx, items(6), nil)

	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestEmbedAll_RateLimited(t *testing.T) {
	f := &fakeEmbedder{}
	b := NewBatcher(f, BatchConfig{BatchSize: 1, Concurrency: 2, RequestsPerSecond: 1000})

	vecs, err := b.EmbedAll(context.Background(), items(5), nil)

	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int32(5), f.calls.Load())
}

func TestEmbedAll_Empty(t *testing.T) {
	vecs, err := NewBatcher(&fakeEmbedder{}, BatchConfig{}).EmbedAll(context.Background(), nil, nil)

	require.NoError(t, err)
	assert.Empty(t, vecs)
}

type shortEmbedder struct{}

func (shortEmbedder) Model() string { return "short" }
func (shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

func TestCached_ForwardsOnlyMisses(t *testing.T) {
	f := &fakeEmbedder{}
	c := NewCached(f, 8)

	first, err := c.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), []string{"bb", "ccc", "a"})
	require.NoError(t, err)

	assert.Equal(t, first[0], second[2])
	assert.Equal(t, float32(3), second[1][0])
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, []string{"ccc"}, f.seen[1])
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, "fake", c.Model())
}
