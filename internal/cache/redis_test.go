package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAction(t *testing.T) {
	rec := models.RoomAction{
		RoomID:      uuid.New(),
		ActionIndex: 7,
		PlayerID:    uuid.New(),
		ActionType:  "submit_guess",
		Payload:     map[string]interface{}{"card_id": "abc"},
		Timestamp:   1700000000000,
	}
	data, err := EncodeAction(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action_type":"submit_guess"`)

	got, err := DecodeAction(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = DecodeAction([]byte("{"))
	assert.Error(t, err)
}

func TestNewActionQueueDefaultName(t *testing.T) {
	assert.Equal(t, DefaultQueueName, NewActionQueue(nil, "").Name())
	assert.Equal(t, "q", NewActionQueue(nil, "q").Name())
}

// TestActionQueueRoundTrip needs a Redis server at TEST_REDIS_ADDR.
func TestActionQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := ConnectRedis(ctx, addr, 0)
	require.NoError(t, err)
	defer rdb.Close()

	q := NewActionQueue(rdb, "storyteller_test_"+uuid.NewString())
	defer rdb.Del(context.Background(), q.Name())

	rec := models.RoomAction{RoomID: uuid.New(), ActionIndex: 1, ActionType: "join_game", Payload: map[string]interface{}{}}
	require.NoError(t, q.PublishRoomAction(ctx, rec))

	got, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.RoomID, got.RoomID)
	assert.Equal(t, "join_game", got.ActionType)

	got, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}
