package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Channel receives view count updates; defaults to live:view_counts.
	Channel string
}

// Redis key patterns:
// live:rooms          SET<room_id>  - rooms currently live
// live:room:{room_id} HASH          - broadcaster, started_at, viewers
const liveRoomsKey = "live:rooms"

func liveRoomKey(roomID domain.RoomID) string {
	return fmt.Sprintf("live:room:%s", roomID)
}

// ViewCountUpdate is published on every view count change.
type ViewCountUpdate struct {
	RoomID domain.RoomID `json:"roomId"`
	Count  int           `json:"count"`
	At     int64         `json:"at"`
}

// RedisStatus publishes live rooms and view counts for other services.
type RedisStatus struct {
	client  *redis.Client
	channel string
}

func NewRedisStatus(cfg RedisConfig) (*RedisStatus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return newRedisStatus(client, cfg.Channel), nil
}

func newRedisStatus(client *redis.Client, channel string) *RedisStatus {
	if channel == "" {
		channel = "live:view_counts"
	}
	return &RedisStatus{client: client, channel: channel}
}

func (s *RedisStatus) SetRoomLive(ctx context.Context, roomID domain.RoomID, broadcaster core.ConnectionID) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, liveRoomsKey, string(roomID))
	pipe.HSet(ctx, liveRoomKey(roomID), map[string]any{
		"broadcaster": string(broadcaster),
		"started_at":  strconv.FormatInt(time.Now().Unix(), 10),
		"viewers":     0,
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) SetRoomOffline(ctx context.Context, roomID domain.RoomID) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, liveRoomsKey, string(roomID))
	pipe.Del(ctx, liveRoomKey(roomID))
	_, err := pipe.Exec(ctx)
	return err
}

// PublishViewCount records the count on a live room and announces it.
// Counts of rooms that are not live are only announced.
func (s *RedisStatus) PublishViewCount(ctx context.Context, roomID domain.RoomID, count int) error {
	payload, err := json.Marshal(ViewCountUpdate{RoomID: roomID, Count: count, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	live, err := s.client.SIsMember(ctx, liveRoomsKey, string(roomID)).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	if live {
		pipe.HSet(ctx, liveRoomKey(roomID), "viewers", count)
	}
	pipe.Publish(ctx, s.channel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) LiveRooms(ctx context.Context) ([]domain.RoomID, error) {
	ids, err := s.client.SMembers(ctx, liveRoomsKey).Result()
	if err != nil {
		return nil, err
	}
	rooms := make([]domain.RoomID, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, domain.RoomID(id))
	}
	return rooms, nil
}

func (s *RedisStatus) Close() error {
	return s.client.Close()
}
