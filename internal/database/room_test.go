package database

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/jason-s-yu/storyteller/internal/roster"
	"github.com/jason-s-yu/storyteller/internal/round"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool connects to TEST_DATABASE_URL and skips when it is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := ConnectDB(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))
	t.Cleanup(pool.Close)
	return pool
}

func TestRoomStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewRoomStore(pool)

	catalog := make([]models.CatalogCard, 20)
	for i := range catalog {
		catalog[i] = models.CatalogCard{CatalogID: 900000 + i, Filename: "t.png", Artist: "pg-test"}
	}
	require.NoError(t, store.SeedCatalog(ctx, catalog))

	rng := rand.New(rand.NewSource(5))
	room := models.NewRoom("pg-test-" + time.Now().Format("150405.000000"))
	roster.Join(room, roster.JoinNew, "ana", "t1", rng)
	roster.Join(room, roster.JoinNew, "bo", "t2", rng)
	_, err := round.BeginGame(room, models.GameOptions{HandSize: 3, EqualHands: true, ArtistFilter: []string{"pg-test"}}, catalog, rng)
	require.NoError(t, err)
	require.NoError(t, store.SaveRoom(ctx, room))
	t.Cleanup(func() { _ = store.DeleteRoom(context.Background(), room.ID) })

	got, err := store.LoadRoomByName(ctx, room.Name)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, room.TurnPlayerID, got.TurnPlayerID)
	assert.Len(t, got.Players, 2)
	assert.Len(t, got.Cards, len(room.Cards))

	require.NoError(t, store.SaveRoom(ctx, room))

	require.NoError(t, store.DeleteRoom(ctx, room.ID))
	_, err = store.LoadRoom(ctx, room.ID)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func TestInsertRoomActions(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	room := models.NewRoom("pg-actions-" + time.Now().Format("150405.000000"))
	require.NoError(t, NewRoomStore(pool).SaveRoom(ctx, room))
	t.Cleanup(func() { _ = NewRoomStore(pool).DeleteRoom(context.Background(), room.ID) })

	err := InsertRoomActions(ctx, pool, []models.RoomAction{
		{RoomID: room.ID, LoadID: uuid.New(), ActionIndex: 1, ActionType: "start_game", Payload: map[string]interface{}{"hand_size": 6}, Timestamp: time.Now().UnixMilli()},
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM room_actions WHERE room_id = $1`, room.ID).Scan(&n))
	assert.Equal(t, 1, n)
}
