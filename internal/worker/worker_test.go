package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
	"github.com/JakeFAU/fb-crawler/internal/crawler/crawlertest"
)

func newPool(t *testing.T, keys []crawler.Credential, start int) *crawler.KeyPool {
	t.Helper()
	pool, err := crawler.NewKeyPool(keys, start)
	require.NoError(t, err)
	return pool
}

func TestWorker_Run_SuccessReordersItems(t *testing.T) {
	t.Parallel()

	backends := crawlertest.NewBackends(crawlertest.Behavior{})
	w := New(backends, Config{}, zap.NewNop())
	batch := crawler.Batch{"https://facebook.com/a", "https://facebook.com/b", "https://facebook.com/c"}

	outcome := w.Run(context.Background(), 0, batch, newPool(t, []crawler.Credential{"k1"}, 0), 1)

	require.Equal(t, crawler.BatchSucceeded, outcome.State)
	require.Equal(t, 1, outcome.Attempts)
	require.Len(t, outcome.Items, 3)
	for i, item := range outcome.Items {
		require.Equal(t, string(batch[i]), item["url"])
	}
}

func TestWorker_Run_RotatesOnFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	backends := crawlertest.NewBackends(crawlertest.Behavior{}).
		Set("k1", crawlertest.Behavior{SubmitErr: errors.New("quota exceeded")})
	w := New(backends, Config{}, zap.New(core))

	outcome := w.Run(context.Background(), 0, crawler.Batch{"a.com"}, newPool(t, []crawler.Credential{"k1", "k2"}, 0), 2)

	require.Equal(t, crawler.BatchSucceeded, outcome.State)
	require.Equal(t, 2, outcome.Attempts)
	require.Equal(t, "k2", outcome.Items[0]["via"])
	require.Equal(t, 1, logs.FilterMessage("rotating to next API key").Len())

	calls := backends.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, crawler.Credential("k1"), calls[0].Credential)
	require.Equal(t, crawler.Credential("k2"), calls[1].Credential)
}

func TestWorker_Run_EachFailureKindRotates(t *testing.T) {
	t.Parallel()

	failures := map[string]crawlertest.Behavior{
		"submit":     {SubmitErr: crawler.ErrCredentialFailure},
		"await":      {AwaitErr: crawler.ErrBackendFailure},
		"no dataset": {NoDataset: true},
		"fetch":      {FetchErr: errors.New("dataset gone")},
	}
	for name, behavior := range failures {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			backends := crawlertest.NewBackends(crawlertest.Behavior{}).Set("bad", behavior)
			w := New(backends, Config{}, zap.NewNop())

			outcome := w.Run(context.Background(), 3, crawler.Batch{"x"}, newPool(t, []crawler.Credential{"bad", "good"}, 0), 2)

			require.Equal(t, crawler.BatchSucceeded, outcome.State)
			require.Equal(t, 3, outcome.Index)
			require.Equal(t, "good", outcome.Items[0]["via"])
		})
	}
}

func TestWorker_Run_ExhaustsAllKeysOnce(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	backends := crawlertest.NewBackends(crawlertest.Behavior{SubmitErr: errors.New("down")})
	w := New(backends, Config{}, zap.New(core))
	keys := []crawler.Credential{"k1", "k2", "k3"}

	outcome := w.Run(context.Background(), 0, crawler.Batch{"a", "b"}, newPool(t, keys, 1), len(keys))

	require.Equal(t, crawler.BatchExhausted, outcome.State)
	require.Empty(t, outcome.Items)
	require.Equal(t, 3, outcome.Attempts)
	require.Equal(t, 1, logs.FilterMessage("all API keys exhausted for batch").Len())

	calls := backends.Calls()
	require.Len(t, calls, 3)
	tried := map[crawler.Credential]bool{}
	for _, c := range calls {
		tried[c.Credential] = true
	}
	require.Len(t, tried, 3)
	require.Equal(t, crawler.Credential("k2"), calls[0].Credential)
}

func TestWorker_Run_NeverExceedsTotalKeyCount(t *testing.T) {
	t.Parallel()

	backends := crawlertest.NewBackends(crawlertest.Behavior{AwaitErr: errors.New("boom")})
	w := New(backends, Config{}, zap.NewNop())

	outcome := w.Run(context.Background(), 0, crawler.Batch{"a"}, newPool(t, []crawler.Credential{"only"}, 0), 1)

	require.Equal(t, crawler.BatchExhausted, outcome.State)
	require.Len(t, backends.Calls(), 1)
}

func TestWorker_Run_AttemptTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	backends := crawlertest.NewBackends(crawlertest.Behavior{}).
		Set("slow", crawlertest.Behavior{Delay: time.Second})
	w := New(backends, Config{AttemptTimeout: 20 * time.Millisecond}, zap.NewNop())

	outcome := w.Run(context.Background(), 0, crawler.Batch{"a"}, newPool(t, []crawler.Credential{"slow", "fast"}, 0), 2)

	require.Equal(t, crawler.BatchSucceeded, outcome.State)
	require.Equal(t, "fast", outcome.Items[0]["via"])
}

func TestWorker_Run_StopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	backends := crawlertest.NewBackends(crawlertest.Behavior{})
	w := New(backends, Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := w.Run(ctx, 0, crawler.Batch{"a"}, newPool(t, []crawler.Credential{"k1", "k2"}, 0), 2)

	require.Equal(t, crawler.BatchExhausted, outcome.State)
	require.Empty(t, backends.Calls())
}

func TestFailureLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "timeout", failureLabel(context.DeadlineExceeded))
	require.Equal(t, "credential", failureLabel(crawler.ErrCredentialFailure))
	require.Equal(t, "error", failureLabel(errors.New("x")))
}
