package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "b/page.html", "text/html", strings.NewReader("content"))
	require.NoError(t, err)
	require.Equal(t, "memory://b/page.html", uri)

	_, err = store.PutObject(context.Background(), "a/page.html", "text/html", strings.NewReader("other"))
	require.NoError(t, err)

	got, ok := store.Get("b/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(got))

	got[0] = 'C'
	again, _ := store.Get("b/page.html")
	require.Equal(t, "content", string(again))

	require.Equal(t, []string{"a/page.html", "b/page.html"}, store.Keys())

	_, ok = store.Get("missing")
	require.False(t, ok)
}
