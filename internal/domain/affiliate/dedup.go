package affiliate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClickDeduper decides whether a click is the first from a visitor on a link
// within the burst window.
type ClickDeduper interface {
	FirstSeen(ctx context.Context, linkID uuid.UUID, fingerprintHash string, at time.Time) (bool, error)
	// Forget undoes FirstSeen when the click could not be stored.
	Forget(ctx context.Context, linkID uuid.UUID, fingerprintHash string) error
}

// RedisDeduper claims a short-lived key per (link, visitor).
type RedisDeduper struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDeduper(client *redis.Client, window time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, window: window}
}

func dedupKey(linkID uuid.UUID, fingerprintHash string) string {
	return fmt.Sprintf("affiliate:click:dedup:%s:%s", linkID, fingerprintHash)
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, linkID uuid.UUID, fingerprintHash string, at time.Time) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKey(linkID, fingerprintHash), at.Unix(), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, linkID uuid.UUID, fingerprintHash string) error {
	return d.client.Del(ctx, dedupKey(linkID, fingerprintHash)).Err()
}

// StoreDeduper looks for a stored click inside the window. It is the fallback
// when Redis is absent or failing.
type StoreDeduper struct {
	repo   Repository
	window time.Duration
}

func NewStoreDeduper(repo Repository, window time.Duration) *StoreDeduper {
	return &StoreDeduper{repo: repo, window: window}
}

func (d *StoreDeduper) FirstSeen(ctx context.Context, linkID uuid.UUID, fingerprintHash string, at time.Time) (bool, error) {
	seen, err := d.repo.HasRecentClick(ctx, linkID, fingerprintHash, at.Add(-d.window))
	if err != nil {
		return false, err
	}
	return !seen, nil
}

func (d *StoreDeduper) Forget(context.Context, uuid.UUID, string) error { return nil }
