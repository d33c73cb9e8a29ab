package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(newClient(t), Config{})
	require.Error(t, err)
}

func TestObjectNaming(t *testing.T) {
	t.Parallel()

	client := newClient(t)

	plain, err := New(client, Config{Bucket: "snapshots"})
	require.NoError(t, err)
	require.Equal(t, "alice.dedup.le.sz", plain.ObjectName("alice.dedup.le.sz"))
	require.Equal(t, "gs://snapshots/alice.dedup.le.sz", plain.URI("alice.dedup.le.sz"))

	prefixed, err := New(client, Config{Bucket: "snapshots", Prefix: "/watcher/dedup/"})
	require.NoError(t, err)
	require.Equal(t, "watcher/dedup/alice.dedup.le.sz", prefixed.ObjectName("alice.dedup.le.sz"))
}
