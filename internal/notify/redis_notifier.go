// Package notify broadcasts credential-change events so dependent
// workers reload tokens instead of using stale ones.
package notify

import (
	"context"
	"encoding/json"
	"time"

	goredislib "github.com/go-redis/redis/v8"

	"credhub/internal/common/logging"
)

// Channel is the redis pub/sub channel credential changes go out on
const Channel = "credhub:credentials-changed"

// Event is the published payload
type Event struct {
	TeamID        string    `json:"team_id"`
	CredentialIDs []string  `json:"credential_ids"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RedisNotifier publishes change events over redis pub/sub. It
// implements engines.Notifier.
type RedisNotifier struct {
	client goredislib.UniversalClient
	logger logging.Logger
}

// NewRedisNotifier creates a notifier over a connected redis client
func NewRedisNotifier(client goredislib.UniversalClient, logger logging.Logger) *RedisNotifier {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// CredentialsChanged publishes the event. Delivery is best effort: a
// publish failure is logged, never surfaced, because the credential
// state is already durably saved.
func (n *RedisNotifier) CredentialsChanged(ctx context.Context, teamID string, credentialIDs []string) {
	payload, err := json.Marshal(Event{
		TeamID:        teamID,
		CredentialIDs: credentialIDs,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("Failed to encode credentials-changed event", err)
		return
	}

	if err := n.client.Publish(ctx, Channel, payload).Err(); err != nil {
		n.logger.Error("Failed to publish credentials-changed event", err,
			logging.String("team_id", teamID))
	}
}
