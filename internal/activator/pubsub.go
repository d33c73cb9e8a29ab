package activator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// Announcement is the JSON payload published for each fresh entry.
type Announcement struct {
	Account    string    `json:"account"`
	Kind       string    `json:"kind"`
	ID         uint32    `json:"id"`
	Flags      string    `json:"flags"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewAnnouncement builds the payload for entry.
func NewAnnouncement(account string, entry harvest.DiscoveredEntry) Announcement {
	return Announcement{
		Account:    account,
		Kind:       entry.Identifier.Kind.String(),
		ID:         entry.Identifier.ID,
		Flags:      entry.Flags.String(),
		ObservedAt: entry.ObservedAt(),
	}
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubActivator announces entries on a Pub/Sub topic for a downstream
// registrar. A published message counts as Accepted.
type PubSubActivator struct {
	topic  topic
	stop   func()
	logger *zap.Logger
}

// NewPubSubActivator publishes through t. *pubsub.Topic satisfies topic.
func NewPubSubActivator(t *pubsub.Topic, logger *zap.Logger) *PubSubActivator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubActivator{topic: t, stop: t.Stop, logger: logger.Named("activator")}
}

// Activate publishes entry as JSON and waits for the server ack.
func (a *PubSubActivator) Activate(ctx context.Context, account string, entry harvest.DiscoveredEntry) (Result, error) {
	if !entry.Identifier.Valid || !entry.Identifier.Kind.Valid() {
		return Invalid, nil
	}
	if a.topic == nil {
		return Retry, fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(NewAnnouncement(account, entry))
	if err != nil {
		return Retry, fmt.Errorf("marshal announcement: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"account": account,
			"kind":    entry.Identifier.Kind.String(),
		},
	}
	id, err := a.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return Retry, fmt.Errorf("publish announcement: %w", err)
	}
	a.logger.Debug("announcement published",
		zap.String("account", account),
		zap.Stringer("identifier", entry.Identifier),
		zap.String("message_id", id),
	)
	return Accepted, nil
}

// Close flushes pending publishes.
func (a *PubSubActivator) Close() {
	if a.stop != nil {
		a.stop()
	}
}
