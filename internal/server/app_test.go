package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/config"
	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

const feed = `<html><body>
<article><time datetime="2026-10-01T00:00:00Z"></time>
  Permanently free: <a href="https://store.steampowered.com/app/440/">Team Fortress</a>
</article>
<article>Free DLC <a href="https://store.steampowered.com/sub/1234">pack</a></article>
</body></html>`

func testConfig(t *testing.T, mirrors ...string) config.Config {
	t.Helper()
	return config.Config{
		Logging: config.LoggingConfig{Level: "debug"},
		Server:  config.ServerConfig{Enabled: false},
		Mirrors: config.MirrorsConfig{Static: mirrors, FeedPath: "/feed", ItemSelector: "article"},
		Race: config.RaceConfig{
			Deadline:    5 * time.Second,
			Concurrency: 2,
			Retries:     1,
			BackoffBase: time.Millisecond,
		},
		HTTP: config.HTTPConfig{
			Timeout:      time.Second,
			UserAgent:    "watcher-test",
			MaxBodyBytes: 1 << 20,
		},
		Merge:    config.MergeConfig{Capacity: 16},
		Schedule: config.ScheduleConfig{Interval: time.Hour},
		Accounts: []string{"alice"},
		Snapshot: config.SnapshotConfig{Backend: config.BackendLocal, Dir: t.TempDir()},
	}
}

func feedServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/feed" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ids(list []harvest.GameIdentifier) []uint32 {
	out := make([]uint32, 0, len(list))
	for _, id := range list {
		out = append(out, id.ID)
	}
	return out
}

func TestRunOnceCollectsAndPersists(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := feedServer(t, &hits)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	app, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.RunOnce(ctx))
	app.Close()
	require.Equal(t, int32(1), hits.Load())

	status := app.Collector().Status()
	require.Len(t, status, 1)
	require.Equal(t, 2, status[0].Discovered)
	require.Equal(t, 2, status[0].Accepted)

	// A fresh process sees the checkpointed identifiers.
	reopened, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	processed, invalid := reopened.Collector().Accounts()[0].Contents()
	require.ElementsMatch(t, []uint32{440, 1234}, ids(processed))
	require.Empty(t, invalid)

	require.NoError(t, reopened.RunOnce(ctx))
	require.Zero(t, reopened.Collector().Status()[0].Fresh)
}

func TestRunOnceReportsMirrorFailure(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	app, err := Build(context.Background(), testConfig(t, down.URL), nil)
	require.NoError(t, err)
	defer app.Close()

	err = app.RunOnce(context.Background())
	require.ErrorIs(t, err, harvest.ErrBadStatus)
	require.Contains(t, app.Collector().Status()[0].Error, "race mirrors")
}

func TestBuildRejectsBadBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://mirror.example")
	cfg.Snapshot.Backend = "tape"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "snapshot backend init failed")
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := feedServer(t, &hits)
	app, err := Build(context.Background(), testConfig(t, srv.URL), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
