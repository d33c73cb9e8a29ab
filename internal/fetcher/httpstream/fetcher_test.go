package httpstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "watcher-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "text/html", r.Header.Get("Accept"))
		w.Header().Set("Date", "Sun, 01 Mar 2026 12:00:00 GMT")
		_, _ = io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "watcher-test", MaxConnsPerHost: 2})
	resp, err := f.GetStream(context.Background(), srv.URL, http.Header{"Accept": []string{"text/html"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Sun, 01 Mar 2026 12:00:00 GMT", resp.Header.Get("Date"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(body))
}

func TestGetStreamHeaderOverridesUserAgent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "default"})
	resp, err := f.GetStream(context.Background(), srv.URL, http.Header{"User-Agent": []string{"override"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "override", string(body))
}

func TestGetStreamPassesStatusThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := New(Config{}).GetStream(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestGetStreamHonorsCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).GetStream(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetStreamRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).GetStream(context.Background(), "://nope", nil)
	require.Error(t, err)
}
