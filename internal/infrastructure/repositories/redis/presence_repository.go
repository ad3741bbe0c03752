package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// roomTTL bounds how long an abandoned room's membership hash survives a
// relay crash; it is refreshed on every join.
const roomTTL = 24 * time.Hour

type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) ports.PresenceRepository {
	return &RedisPresenceRepository{client: client}
}

func roomKey(roomID string) string {
	return "meshcall:room:" + roomID + ":participants"
}

type participantRecord struct {
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}

func (r *RedisPresenceRepository) Join(ctx context.Context, roomID string, p domain.Participant) error {
	record, err := json.Marshal(participantRecord{UserName: p.UserName, JoinedAt: p.JoinedAt})
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, roomKey(roomID), p.UserID, record)
	pipe.Expire(ctx, roomKey(roomID), roomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	return nil
}

func (r *RedisPresenceRepository) Leave(ctx context.Context, roomID, userID string) error {
	if err := r.client.HDel(ctx, roomKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}
	return nil
}

func (r *RedisPresenceRepository) List(ctx context.Context, roomID string) ([]domain.Participant, error) {
	entries, err := r.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list room %s: %w", roomID, err)
	}

	participants := make([]domain.Participant, 0, len(entries))
	for userID, raw := range entries {
		var record participantRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			// Corrupt entry; skip rather than fail the whole list.
			continue
		}
		participants = append(participants, domain.Participant{
			UserID:   userID,
			UserName: record.UserName,
			JoinedAt: record.JoinedAt,
		})
	}
	return participants, nil
}
