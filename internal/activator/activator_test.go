package activator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

var (
	portal = harvest.DiscoveredEntry{
		Identifier: harvest.GameIdentifier{Kind: harvest.KindApp, ID: 400, Valid: true},
		Flags:      harvest.FlagFreeToPlay,
		ObservedMs: float64(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli()),
	}
	broken = harvest.DiscoveredEntry{
		Identifier: harvest.GameIdentifier{Kind: harvest.KindPackage, ID: 7},
		ObservedMs: 1,
	}
)

func TestResultString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "unknown", Result(42).String())
}

func TestLogActivator(t *testing.T) {
	t.Parallel()

	a := NewLogActivator(zap.NewNop())
	got, err := a.Activate(context.Background(), "alice", portal)
	require.NoError(t, err)
	require.Equal(t, Accepted, got)

	got, err = a.Activate(context.Background(), "alice", broken)
	require.NoError(t, err)
	require.Equal(t, Invalid, got)
}

func TestMemoryActivator(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	m.Script(broken.Identifier, Invalid)
	boom := errors.New("storefront down")
	other := harvest.GameIdentifier{Kind: harvest.KindApp, ID: 9, Valid: true}
	m.Fail(other, boom)

	got, err := m.Activate(context.Background(), "alice", portal)
	require.NoError(t, err)
	require.Equal(t, Accepted, got)

	got, err = m.Activate(context.Background(), "alice", broken)
	require.NoError(t, err)
	require.Equal(t, Invalid, got)

	got, err = m.Activate(context.Background(), "bob", harvest.DiscoveredEntry{Identifier: other, ObservedMs: 1})
	require.ErrorIs(t, err, boom)
	require.Equal(t, Retry, got)

	calls := m.Calls()
	require.Len(t, calls, 3)
	require.Equal(t, "bob", calls[2].Account)
	calls[0].Account = "modified"
	require.Equal(t, "alice", m.Calls()[0].Account, "Calls must return a copy")
}

func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "free-games")
	require.NoError(t, err)
	return topic, srv
}

func TestPubSubActivatorPublishesAnnouncement(t *testing.T) {
	t.Parallel()

	topic, srv := newTestTopic(t)
	a := NewPubSubActivator(topic, zap.NewNop())
	defer a.Close()

	got, err := a.Activate(context.Background(), "alice", portal)
	require.NoError(t, err)
	require.Equal(t, Accepted, got)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Attributes["account"])
	assert.Equal(t, "app", msgs[0].Attributes["kind"])

	var ann Announcement
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ann))
	assert.Equal(t, NewAnnouncement("alice", portal), ann)
	assert.Equal(t, uint32(400), ann.ID)
	assert.Equal(t, "free_to_play", ann.Flags)
}

func TestPubSubActivatorSkipsInvalid(t *testing.T) {
	t.Parallel()

	topic, srv := newTestTopic(t)
	a := NewPubSubActivator(topic, nil)
	defer a.Close()

	got, err := a.Activate(context.Background(), "alice", broken)
	require.NoError(t, err)
	require.Equal(t, Invalid, got)
	require.Empty(t, srv.Messages())
}

func TestPubSubActivatorStoppedTopicRetries(t *testing.T) {
	t.Parallel()

	topic, _ := newTestTopic(t)
	a := NewPubSubActivator(topic, zap.NewNop())
	a.Close()

	got, err := a.Activate(context.Background(), "alice", portal)
	require.Error(t, err)
	require.Equal(t, Retry, got)
}
