package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`["content"]`)
	uri, err := store.PutObject(context.Background(), "facebook/a.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://facebook/a.json", uri)

	payload[0] = '{'
	obj, ok := store.Get("facebook/a.json")
	require.True(t, ok)
	require.Equal(t, `["content"]`, string(obj.Data))
	require.Equal(t, "application/json", obj.ContentType)

	obj.Data[0] = '{'
	again, _ := store.Get("facebook/a.json")
	require.Equal(t, `["content"]`, string(again.Data))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.json", "a.json"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a.json", "b.json"}, store.Paths())

	_, ok := store.Get("missing.json")
	require.False(t, ok)
}
