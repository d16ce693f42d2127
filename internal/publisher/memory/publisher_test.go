package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "crawl-finished", map[string]string{"run_id": "r1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "crawl-failed", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl-finished", msgs[0].Topic)
	require.Equal(t, "crawl-failed", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "crawl-finished", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("topic deleted"))
	_, err := pub.Publish(context.Background(), "t", "x")
	require.EqualError(t, err, "topic deleted")
	require.Empty(t, pub.Messages())
}
