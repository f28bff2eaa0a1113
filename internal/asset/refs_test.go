package asset

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferences_CreateResolveRelease(t *testing.T) {
	refs := NewReferences(WithIDGenerator(NewFixedGenerator("id-1", "id-2")))

	a, err := refs.Create([]byte("a"), "image/png")
	require.NoError(t, err)
	b, err := refs.Create([]byte("b"), "image/gif")
	require.NoError(t, err)

	assert.Equal(t, "blob:assetdb/id-1", a.URL)
	assert.Equal(t, "blob:assetdb/id-2", b.String())
	assert.Equal(t, 2, refs.Len())

	payload, mediaType, ok := refs.Resolve(a.URL)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), payload)
	assert.Equal(t, "image/png", mediaType)

	refs.Release(a)
	refs.Release(a)
	_, _, ok = refs.Resolve(a.URL)
	assert.False(t, ok)
	assert.Equal(t, 1, refs.Len())
}

func TestReferences_ResolveForeignURL(t *testing.T) {
	refs := NewReferences()
	_, _, ok := refs.Resolve("https://example.com/a.png")
	assert.False(t, ok)
}

func TestReferences_DuplicateID(t *testing.T) {
	refs := NewReferences(WithIDGenerator(NewFixedGenerator("same", "same")))
	_, err := refs.Create(nil, "")
	require.NoError(t, err)
	_, err = refs.Create(nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already issued")
}

func TestReferences_Limit(t *testing.T) {
	refs := NewReferences(WithLimit(2))
	a, err := refs.Create(nil, "")
	require.NoError(t, err)
	_, err = refs.Create(nil, "")
	require.NoError(t, err)

	_, err = refs.Create(nil, "")
	assert.ErrorIs(t, err, ErrReferenceLimit)

	refs.Release(a)
	_, err = refs.Create(nil, "")
	assert.NoError(t, err)
}

func TestReferences_Close(t *testing.T) {
	refs := NewReferences()
	a, err := refs.Create([]byte("a"), "")
	require.NoError(t, err)

	refs.Close()
	assert.Equal(t, 0, refs.Len())
	_, _, ok := refs.Resolve(a.URL)
	assert.False(t, ok)

	_, err = refs.Create(nil, "")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestUUIDv7Generator_Format(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestReferences_ConcurrentCreate(t *testing.T) {
	refs := NewReferences()
	const n = 64

	var wg sync.WaitGroup
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := refs.Create(nil, "")
			assert.NoError(t, err)
			urls[i] = ref.URL
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, refs.Len())
	for _, u := range urls {
		assert.True(t, strings.HasPrefix(u, ReferencePrefix))
	}
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("only")
	assert.Equal(t, "only", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
