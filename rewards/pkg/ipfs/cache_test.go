package ipfs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rewardstesting "github.com/malbeclabs/rewards/utils/pkg/testing"
)

type countingConverter struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingConverter) convert(d string) (string, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return DigestToCID(d)
}

func newTestCache(t *testing.T, convert func(string) (string, error)) *Cache {
	t.Helper()
	cache, err := NewCache(CacheConfig{Logger: rewardstesting.NewLogger(), Convert: convert})
	require.NoError(t, err)
	return cache
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIPFS_Cache_HitAfterResolution(t *testing.T) {
	t.Parallel()

	conv := &countingConverter{}
	cache := newTestCache(t, conv.convert)

	first := cache.Resolve(fixtureDigest)
	assert.False(t, first.Hit())
	cid, err := first.Pending.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, fixtureCID, cid)

	second := cache.Resolve(fixtureDigest)
	require.True(t, second.Hit())
	assert.Equal(t, cid, second.CID)
	assert.EqualValues(t, 1, conv.calls.Load())

	again, err := second.Pending.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, cid, again)
}

func TestIPFS_Cache_KeyIgnoresPrefixAndCase(t *testing.T) {
	t.Parallel()

	conv := &countingConverter{}
	cache := newTestCache(t, conv.convert)

	_, err := cache.Lookup(waitCtx(t), fixtureDigest)
	require.NoError(t, err)

	bare := strings.ToUpper(strings.TrimPrefix(fixtureDigest, "0x"))
	r := cache.Resolve(bare)
	require.True(t, r.Hit())
	assert.Equal(t, fixtureCID, r.CID)
	assert.EqualValues(t, 1, conv.calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestIPFS_Cache_SingleInFlightConversion(t *testing.T) {
	t.Parallel()

	conv := &countingConverter{gate: make(chan struct{})}
	cache := newTestCache(t, conv.convert)

	const callers = 16
	pendings := make([]*Pending, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := cache.Resolve(fixtureDigest)
			assert.False(t, r.Hit())
			pendings[i] = r.Pending
		}(i)
	}
	wg.Wait()
	close(conv.gate)

	for _, p := range pendings {
		assert.Same(t, pendings[0], p)
		cid, err := p.Wait(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, fixtureCID, cid)
	}
	assert.EqualValues(t, 1, conv.calls.Load())
}

func TestIPFS_Cache_FailedConversionIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cache := newTestCache(t, func(d string) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("boom")
		}
		return DigestToCID(d)
	})

	_, err := cache.Lookup(waitCtx(t), fixtureDigest)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	cid, err := cache.Lookup(waitCtx(t), fixtureDigest)
	require.NoError(t, err)
	assert.Equal(t, fixtureCID, cid)
	assert.EqualValues(t, 2, calls.Load())
}

func TestIPFS_Cache_InvalidDigestFailsWithoutCaching(t *testing.T) {
	t.Parallel()

	conv := &countingConverter{}
	cache := newTestCache(t, conv.convert)

	r := cache.Resolve("0x1234")
	assert.False(t, r.Hit())
	_, err := r.Pending.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrInvalidDigestLength)
	assert.EqualValues(t, 0, conv.calls.Load())
	assert.Equal(t, 0, cache.Len())
}

func TestIPFS_Cache_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	conv := &countingConverter{gate: make(chan struct{})}
	defer close(conv.gate)
	cache := newTestCache(t, conv.convert)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Resolve(fixtureDigest).Pending.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIPFS_Normalize_Shapes(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, nil)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"v1 unchanged", fixtureCID, fixtureCID},
		{"v0 to v1", fixtureV0, fixtureV0V1},
		{"broken v0 left as-is", "QmNotReallyACid", "QmNotReallyACid"},
		{"ipfs scheme", "ipfs://" + fixtureCID, fixtureCID},
		{"gateway url", "https://ipfs.io/ipfs/" + fixtureCID, fixtureCID},
		{"gateway url with v0", "https://gateway.pinata.cloud/ipfs/" + fixtureV0, fixtureV0V1},
		{"ipfs scheme with path form", "ipfs://ipfs/" + fixtureCID, fixtureCID},
		{"unknown shape", "hello-world", "hello-world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cache.Normalize(tt.input))
		})
	}
}

func TestIPFS_Normalize_DigestBackfillsCache(t *testing.T) {
	t.Parallel()

	conv := &countingConverter{}
	cache := newTestCache(t, conv.convert)

	// First call does not block and returns the input unchanged.
	assert.Equal(t, fixtureDigest, cache.Normalize(fixtureDigest))

	_, err := cache.Lookup(waitCtx(t), fixtureDigest)
	require.NoError(t, err)

	assert.Equal(t, fixtureCID, cache.Normalize(fixtureDigest))
	assert.Equal(t, fixtureCID, cache.Normalize(strings.TrimPrefix(fixtureDigest, "0x")))
	assert.EqualValues(t, 1, conv.calls.Load())
}

func TestIPFS_Normalize_Idempotent(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, nil)
	_, err := cache.Lookup(waitCtx(t), fixtureDigest)
	require.NoError(t, err)

	for _, in := range []string{
		fixtureCID,
		fixtureV0,
		"ipfs://" + fixtureCID,
		"https://gw.example/ipfs/" + fixtureV0,
		fixtureDigest,
		"something-else",
	} {
		once := cache.Normalize(in)
		assert.Equal(t, once, cache.Normalize(once), in)
	}
}

func TestIPFS_Normalize_EquivalentForms(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, nil)
	c := fixtureCID
	assert.Equal(t, cache.Normalize(c), cache.Normalize("ipfs://"+c))
	assert.Equal(t, cache.Normalize(c), cache.Normalize("https://gateway/ipfs/"+c))
}
