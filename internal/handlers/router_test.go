package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/auth"
	"github.com/jason-s-yu/storyteller/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, ts *testServer, method, path string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndArtists(t *testing.T) {
	ts := newTestServer(t, "")

	ts.hub.Subscribe(uuid.New(), uuid.New(), NewRoomConnection("127.0.0.1"))
	resp := do(t, ts, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["connections"])
	assert.EqualValues(t, 0, health["rooms"])

	resp = do(t, ts, http.MethodGet, "/artists", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var counts []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Len(t, counts, 2)

	require.NoError(t, ts.store.Close())
	resp = do(t, ts, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRosterEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	assert.Equal(t, http.StatusBadRequest, do(t, ts, http.MethodGet, "/rooms/xyz/roster", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodGet, "/rooms/"+uuid.NewString()+"/roster", nil).StatusCode)

	res, err := ts.coord.Join(context.Background(), game.JoinRequest{Username: "ana", RoomName: "den"}, nil)
	require.NoError(t, err)

	resp := do(t, ts, http.MethodGet, "/rooms/"+res.RoomID.String()+"/roster", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []game.RosterRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "ana", rows[0].Name)

	resp = do(t, ts, http.MethodGet, "/rooms/"+res.RoomID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "pregame", st["phase"])
}

func TestAdminDelete(t *testing.T) {
	hash, err := auth.HashKey("letmein", auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	require.NoError(t, err)
	ts := newTestServer(t, hash)

	res, err := ts.coord.Join(context.Background(), game.JoinRequest{Username: "ana", RoomName: "den"}, nil)
	require.NoError(t, err)
	path := "/admin/rooms/" + res.RoomID.String()

	assert.Equal(t, http.StatusUnauthorized, do(t, ts, http.MethodDelete, path, nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, do(t, ts, http.MethodDelete, path, map[string]string{AdminKeyHeader: "nope"}).StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, ts, http.MethodDelete, path, map[string]string{AdminKeyHeader: "letmein"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodDelete, path, map[string]string{AdminKeyHeader: "letmein"}).StatusCode)
	assert.Zero(t, ts.coord.LoadedRooms())
}

func TestAdminRoutesDisabledWithoutHash(t *testing.T) {
	ts := newTestServer(t, "")
	resp := do(t, ts, http.MethodDelete, "/admin/rooms/"+uuid.NewString(), map[string]string{AdminKeyHeader: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHeartbeatAndCORS(t *testing.T) {
	ts := newTestServer(t, "")
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/ping", nil).StatusCode)

	resp := do(t, ts, http.MethodGet, "/artists", map[string]string{"Origin": "http://example.com"})
	assert.Equal(t, "http://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
