package offline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "offline_cache.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCanonicalize_SortsKeys(t *testing.T) {
	a, err := Canonicalize(json.RawMessage(`{"b": 1, "a": {"y": [1, 2], "x": "s"}}`))
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"a": map[string]any{"x": "s", "y": []int{1, 2}}, "b": 1})
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"x":"s","y":[1,2]},"b":1}`, string(a))
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalize_KeepsNumberText(t *testing.T) {
	out, err := Canonicalize(json.RawMessage(`{"n": 12345678901234567890}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":12345678901234567890}`, string(out))
}

func TestCanonicalize_Invalid(t *testing.T) {
	_, err := Canonicalize(json.RawMessage(`{"a":`))
	assert.Error(t, err)
}

func TestCanonicalize_RejectsTrailingData(t *testing.T) {
	_, err := Canonicalize(json.RawMessage(`{"input":"hi"} {"input":"other"}`))
	assert.Error(t, err)

	_, _, err = Key([]byte(`{"input":"hi"} garbage`))
	assert.Error(t, err)

	_, err = Canonicalize(json.RawMessage("{\"input\":\"hi\"}\n"))
	assert.NoError(t, err, "trailing whitespace is fine")
}

func TestKey_StableAcrossKeyOrder(t *testing.T) {
	k1, _, err := Key(json.RawMessage(`{"input":"hi","model":"m"}`))
	require.NoError(t, err)
	k2, _, err := Key(json.RawMessage(`{"model":"m","input":"hi"}`))
	require.NoError(t, err)
	k3, _, err := Key(json.RawMessage(`{"model":"m","input":"bye"}`))
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}

func TestCache_MissIsNotAnError(t *testing.T) {
	c := openTestCache(t)

	raw, found, err := c.Get(context.Background(), map[string]string{"input": "never stored"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, raw)
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	require.NoError(t, c.Put(ctx, json.RawMessage(`{"input":"hi","model":"m"}`), map[string]string{"response": "hello"}))

	got, found, err := Lookup[map[string]string](ctx, c, map[string]string{"model": "m", "input": "hi"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", got["response"])
}

func TestCache_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	req := map[string]string{"input": "status?"}

	require.NoError(t, c.Put(ctx, req, "first"))
	require.NoError(t, c.Put(ctx, req, "second"))

	got, found, err := Lookup[string](ctx, c, req)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", got)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCache_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := openTestCache(t, WithClock(func() time.Time { return now }))

	require.NoError(t, c.Put(ctx, map[string]string{"input": "old"}, "x"))
	now = now.Add(48 * time.Hour)
	require.NoError(t, c.Put(ctx, map[string]string{"input": "new"}, "y"))

	removed, err := c.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, found, err := c.Get(ctx, map[string]string{"input": "old"})
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = c.Get(ctx, map[string]string{"input": "new"})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCache_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, map[string]string{"input": "hi"}, "hello"))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	got, found, err := Lookup[string](ctx, c, map[string]string{"input": "hi"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", got)
}
