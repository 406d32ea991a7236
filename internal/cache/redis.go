// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the room action log is pushed to.
const DefaultQueueName = "storyteller_actions"

// ConnectRedis opens a client and checks the server answers.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ActionQueue is the producer and consumer side of the room action log.
type ActionQueue struct {
	rdb   *redis.Client
	queue string
}

// NewActionQueue binds a queue name to a client. An empty name uses DefaultQueueName.
func NewActionQueue(rdb *redis.Client, queue string) *ActionQueue {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &ActionQueue{rdb: rdb, queue: queue}
}

// Name is the Redis list key.
func (q *ActionQueue) Name() string {
	return q.queue
}

// PublishRoomAction serializes the record and pushes it to the tail of the queue.
func (q *ActionQueue) PublishRoomAction(ctx context.Context, rec models.RoomAction) error {
	data, err := EncodeAction(rec)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns (nil, nil) when the
// wait times out with nothing queued.
func (q *ActionQueue) Pop(ctx context.Context, timeout time.Duration) (*models.RoomAction, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", q.queue, err)
	}
	// res[0] is the key, res[1] the payload
	if len(res) < 2 {
		return nil, nil
	}
	rec, err := DecodeAction([]byte(res[1]))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// EncodeAction is the wire form of one action log record.
func EncodeAction(rec models.RoomAction) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RoomAction: %w", err)
	}
	return data, nil
}

// DecodeAction parses a record produced by EncodeAction.
func DecodeAction(data []byte) (models.RoomAction, error) {
	var rec models.RoomAction
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.RoomAction{}, fmt.Errorf("invalid action record: %w", err)
	}
	return rec, nil
}
