package sessions

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records which identities an editor server reports as currently
// editing a document. Entries live in a Redis set under
// "<prefix><documentID>" and expire when no "being edited" callback
// refreshes them.
type Presence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPresence creates a Redis-backed tracker. Prefix may be empty.
func NewPresence(client *redis.Client, prefix string, ttl time.Duration) *Presence {
	if prefix == "" {
		prefix = "editing:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{client: client, prefix: prefix, ttl: ttl}
}

func (p *Presence) key(documentID string) string {
	return p.prefix + documentID
}

// Record replaces the active editor set for a document.
func (p *Presence) Record(ctx context.Context, documentID string, users []string) error {
	key := p.key(documentID)
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(users) > 0 {
		members := make([]interface{}, 0, len(users))
		for _, u := range users {
			members = append(members, u)
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Clear forgets the active editors of a document.
func (p *Presence) Clear(ctx context.Context, documentID string) error {
	return p.client.Del(ctx, p.key(documentID)).Err()
}

// Active returns the identities currently editing a document, sorted.
func (p *Presence) Active(ctx context.Context, documentID string) ([]string, error) {
	out, err := p.client.SMembers(ctx, p.key(documentID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
