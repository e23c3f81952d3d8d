package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// DefaultRedisMaxEntries caps each schema's history list.
const DefaultRedisMaxEntries = 500

const redisKeyPrefix = "ekaya-ask:history:"

// redisHistoryStore keeps a capped, newest-first JSON list per schema.
type redisHistoryStore struct {
	client     redis.UniversalClient
	maxEntries int64
}

// NewRedisHistoryStore creates a Redis-backed QueryHistoryRepository.
func NewRedisHistoryStore(client redis.UniversalClient, maxEntries int64) QueryHistoryRepository {
	if maxEntries <= 0 {
		maxEntries = DefaultRedisMaxEntries
	}
	return &redisHistoryStore{client: client, maxEntries: maxEntries}
}

var _ QueryHistoryRepository = (*redisHistoryStore)(nil)

func historyKey(schemaName string) string {
	return redisKeyPrefix + schemaName
}

func (s *redisHistoryStore) Create(ctx context.Context, entry *models.QueryHistoryEntry) error {
	prepareEntry(entry)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal query history entry: %w", err)
	}

	key := historyKey(entry.SchemaName)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.maxEntries-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store query history entry: %w", err)
	}
	return nil
}

// List requires filters.SchemaName; entries are kept per schema.
func (s *redisHistoryStore) List(ctx context.Context, filters models.QueryHistoryFilters) ([]*models.QueryHistoryEntry, error) {
	if filters.SchemaName == "" {
		return nil, fmt.Errorf("schema name is required to list redis query history")
	}

	raw, err := s.client.LRange(ctx, historyKey(filters.SchemaName), 0, s.maxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list query history entries: %w", err)
	}

	limit := listLimit(filters.Limit)
	entries := make([]*models.QueryHistoryEntry, 0, min(limit, len(raw)))
	for _, item := range raw {
		var entry models.QueryHistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode query history entry: %w", err)
		}
		if filters.SuccessOnly && !entry.Success {
			continue
		}
		if filters.Since != nil && entry.CreatedAt.Before(*filters.Since) {
			continue
		}
		entries = append(entries, &entry)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (s *redisHistoryStore) DeleteOlderThan(ctx context.Context, schemaName string, cutoff time.Time) (int64, error) {
	key := historyKey(schemaName)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read query history: %w", err)
	}

	var deleted int64
	for _, item := range raw {
		var entry models.QueryHistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if !entry.CreatedAt.Before(cutoff) {
			continue
		}
		n, err := s.client.LRem(ctx, key, 1, item).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete query history entry: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}
