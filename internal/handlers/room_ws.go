// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/game"
	"github.com/jason-s-yu/storyteller/internal/middleware"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/sirupsen/logrus"
)

// RoomSubprotocol must be offered by every client of the room socket.
const RoomSubprotocol = "room"

// RoomMessage is an inbound websocket request. Fields not used by Type are ignored.
type RoomMessage struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`

	// join_game
	Username     string `json:"username,omitempty"`
	RoomName     string `json:"room_name,omitempty"`
	SessionToken string `json:"session_token,omitempty"`

	// RoomID and PlayerID, when sent, must match the connection's join.
	RoomID   string `json:"room_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`

	CardID     string              `json:"card_id,omitempty"`
	PromptText string              `json:"prompt_text,omitempty"`
	Options    *models.GameOptions `json:"options,omitempty"`
}

// Ack answers exactly one RoomMessage.
type Ack struct {
	Type   string `json:"type"`
	ReqID  string `json:"req_id,omitempty"`
	Action string `json:"action"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`

	*game.JoinResult
	Rows    []game.RosterRow     `json:"rows,omitempty"`
	Artists []models.ArtistCount `json:"artists,omitempty"`
}

const requestTimeout = 10 * time.Second

const (
	ackOK    = "ok"
	ackError = "error"
)

var errNotJoined = fmt.Errorf("%w: join_game first", game.ErrBadRequest)

// RoomHandler serves the room websocket and dispatches its messages to the coordinator.
type RoomHandler struct {
	coord *game.Coordinator
	hub   *Hub
	log   *logrus.Logger
}

// NewRoomHandler wires a handler.
func NewRoomHandler(coord *game.Coordinator, hub *Hub, logger *logrus.Logger) *RoomHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RoomHandler{coord: coord, hub: hub, log: logger}
}

// ServeHTTP upgrades to a websocket and runs the connection until it closes.
func (h *RoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{RoomSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != RoomSubprotocol {
		c.Close(BadSubprotocolError, "client must speak the room subprotocol")
		return
	}
	c.SetReadLimit(64 << 10)
	middleware.LogWebSocketConnect(h.log, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rc := NewRoomConnection(r.RemoteAddr)
	go h.writePump(ctx, c, rc)

	err = h.readPump(ctx, c, rc)

	if roomID, playerID := rc.Binding(); roomID != uuid.Nil {
		h.coord.Disconnect(roomID, playerID, rc)
	}
	rc.Close()
	middleware.LogWebSocketDisconnect(h.log, r.RemoteAddr, r.URL.Path, err)
	c.Close(websocket.StatusNormalClosure, "")
}

// readPump decodes requests and answers each with an ack on the connection's queue.
// It returns nil on a normal close.
func (h *RoomHandler) readPump(ctx context.Context, c *websocket.Conn, rc *RoomConnection) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			h.log.Debugf("ignoring non-text message from %s", rc.remote)
			continue
		}

		var msg RoomMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			rc.write(Ack{Type: "ack", Action: "unknown", Status: ackError, Reason: game.Reason(game.ErrBadRequest)})
			continue
		}
		if msg.Type == "ping" {
			rc.write(map[string]string{"type": "pong", "req_id": msg.ReqID})
			continue
		}

		ack := h.handle(ctx, rc, msg)
		if !rc.write(ack) {
			h.log.WithField("action", msg.Type).Warn("ack dropped, connection queue full")
		}
	}
}

// writePump drains the connection's queue onto the socket and keeps it alive with pings.
func (h *RoomHandler) writePump(ctx context.Context, c *websocket.Conn, rc *RoomConnection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rc.done:
			return
		case msg := <-rc.out:
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Warnf("failed to marshal outgoing message for %s: %v", rc.remote, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Warnf("failed to write to websocket %s: %v", rc.remote, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Warnf("ping to %s failed: %v", rc.remote, err)
				return
			}
		}
	}
}

// handle runs one request against the coordinator and builds its ack.
func (h *RoomHandler) handle(ctx context.Context, rc *RoomConnection, msg RoomMessage) Ack {
	ack := Ack{Type: "ack", ReqID: msg.ReqID, Action: msg.Type, Status: ackOK}
	// a request that reached the coordinator completes even if the socket drops meanwhile
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
	defer cancel()
	if err := h.dispatch(opCtx, rc, msg, &ack); err != nil {
		ack.Status = ackError
		ack.Reason = game.Reason(err)
		entry := h.log.WithFields(logrus.Fields{"action": msg.Type, "reason": ack.Reason})
		if ack.Reason == "internal" {
			entry.WithError(err).Error("request failed")
		} else {
			entry.Debug("request rejected")
		}
	}
	return ack
}

func (h *RoomHandler) dispatch(ctx context.Context, rc *RoomConnection, msg RoomMessage, ack *Ack) error {
	switch msg.Type {
	case "join_game":
		if roomID, playerID := rc.Binding(); roomID != uuid.Nil {
			h.coord.Disconnect(roomID, playerID, rc)
			rc.Bind(uuid.Nil, uuid.Nil)
		}
		res, err := h.coord.Join(ctx, game.JoinRequest{
			Username:     msg.Username,
			RoomName:     msg.RoomName,
			SessionToken: msg.SessionToken,
		}, rc)
		if err != nil {
			return err
		}
		rc.Bind(res.RoomID, res.PlayerID)
		ack.JoinResult = res
		return nil

	case "get_artists":
		artists, err := h.coord.Artists(ctx)
		ack.Artists = artists
		return err
	}

	roomID, playerID, err := target(rc, msg)
	if err != nil {
		return err
	}

	switch msg.Type {
	case "start_game":
		var opts models.GameOptions
		if msg.Options != nil {
			opts = *msg.Options
		}
		return h.coord.StartGame(ctx, roomID, playerID, opts)

	case "submit_prompt":
		cardID, err := parseID(msg.CardID, "card_id")
		if err != nil {
			return err
		}
		return h.coord.SubmitPrompt(ctx, roomID, playerID, cardID, msg.PromptText)

	case "submit_secret":
		cardID, err := parseID(msg.CardID, "card_id")
		if err != nil {
			return err
		}
		return h.coord.SubmitSecret(ctx, roomID, playerID, cardID)

	case "submit_guess":
		cardID, err := parseID(msg.CardID, "card_id")
		if err != nil {
			return err
		}
		return h.coord.SubmitGuess(ctx, roomID, playerID, cardID)

	case "leave_game":
		if err := h.coord.Leave(ctx, roomID, playerID); err != nil {
			return err
		}
		rc.Bind(uuid.Nil, uuid.Nil)
		return nil

	case "shuffle_seating":
		return h.coord.ShuffleSeating(ctx, roomID, playerID)

	case "reset_room":
		return h.coord.ResetRoom(ctx, roomID, playerID)

	case "delete_room":
		if err := h.coord.DeleteRoom(ctx, roomID); err != nil {
			return err
		}
		rc.Bind(uuid.Nil, uuid.Nil)
		return nil

	case "get_roster":
		rows, err := h.coord.Roster(ctx, roomID)
		ack.Rows = rows
		return err

	default:
		return fmt.Errorf("%w: unknown message type %q", game.ErrBadRequest, msg.Type)
	}
}

// target resolves the room and player a request acts on from the connection's join.
func target(rc *RoomConnection, msg RoomMessage) (uuid.UUID, uuid.UUID, error) {
	roomID, playerID := rc.Binding()
	if roomID == uuid.Nil {
		return uuid.Nil, uuid.Nil, errNotJoined
	}
	if msg.RoomID != "" {
		id, err := parseID(msg.RoomID, "room_id")
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
		if id != roomID {
			return uuid.Nil, uuid.Nil, fmt.Errorf("%w: room_id does not match this connection", game.ErrBadRequest)
		}
	}
	if msg.PlayerID != "" {
		id, err := parseID(msg.PlayerID, "player_id")
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
		if id != playerID {
			return uuid.Nil, uuid.Nil, fmt.Errorf("%w: player_id does not match this connection", game.ErrBadRequest)
		}
	}
	return roomID, playerID, nil
}

func parseID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", game.ErrBadRequest, field)
	}
	return id, nil
}
