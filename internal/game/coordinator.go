// internal/game/coordinator.go
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/jason-s-yu/storyteller/internal/roster"
	"github.com/jason-s-yu/storyteller/internal/round"
	"github.com/sirupsen/logrus"
)

// Store persists room aggregates. SaveRoom must write the room, its players
// and its cards in a single transaction.
type Store interface {
	LoadRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	LoadRoomByName(ctx context.Context, name string) (*models.Room, error)
	SaveRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	Catalog(ctx context.Context) ([]models.CatalogCard, error)
	ArtistCounts(ctx context.Context) ([]models.ArtistCount, error)
}

// Subscriber is one live client connection. Send must not block.
type Subscriber interface {
	Send(ev RoomEvent) bool
}

// Publisher fans room events out to subscribed connections.
type Publisher interface {
	Subscribe(roomID, playerID uuid.UUID, sub Subscriber)
	// Unsubscribe removes sub, or every connection of the player when sub is nil.
	Unsubscribe(roomID, playerID uuid.UUID, sub Subscriber)
	Broadcast(roomID uuid.UUID, ev RoomEvent)
	SendToPlayer(roomID, playerID uuid.UUID, ev RoomEvent)
	CloseRoom(roomID uuid.UUID)
}

// ActionLog receives a record of every applied action. Delivery is best effort.
type ActionLog interface {
	PublishRoomAction(ctx context.Context, rec models.RoomAction) error
}

// TokenIssuer mints the session token bound to a fresh join and verifies it on rejoin.
type TokenIssuer interface {
	IssueSessionToken(roomID, playerID uuid.UUID) (string, error)
	ParseSessionToken(token string) (roomID, playerID uuid.UUID, err error)
}

// JoinRequest is the payload of join_game.
type JoinRequest struct {
	Username     string `json:"username"`
	RoomName     string `json:"room_name"`
	SessionToken string `json:"session_token"`
}

// JoinResult is returned to the joining connection.
type JoinResult struct {
	PlayerID     uuid.UUID  `json:"player_id"`
	RoomID       uuid.UUID  `json:"room_id"`
	SessionToken string     `json:"session_token"`
	Kind         string     `json:"join_kind"`
	State        *RoomState `json:"room_state"`
}

// Coordinator is the single entry point for every room operation. Operations on
// one room are serialized; operations on different rooms run in parallel.
type Coordinator struct {
	store   Store
	pub     Publisher
	tokens  TokenIssuer
	actions ActionLog
	log     *logrus.Logger

	sessions *sessionStore

	// NewRand seeds the random source of each loaded room.
	NewRand func() *rand.Rand
}

// NewCoordinator wires a coordinator. actions may be nil to disable the action log.
func NewCoordinator(store Store, pub Publisher, tokens TokenIssuer, actions ActionLog, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		store:    store,
		pub:      pub,
		tokens:   tokens,
		actions:  actions,
		log:      logger,
		sessions: newSessionStore(),
		NewRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

// LoadedRooms reports how many rooms are held in memory.
func (c *Coordinator) LoadedRooms() int {
	return c.sessions.count()
}

// Join adds a player to the named room, creating the room on first join.
// A matching session token reconnects the existing player without changing it.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest, sub Subscriber) (*JoinResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.RoomName = strings.TrimSpace(req.RoomName)
	if req.Username == "" || req.RoomName == "" {
		return nil, fmt.Errorf("%w: username and room_name are required", ErrBadRequest)
	}

	// a session deleted while we waited for its lock is retried once against a fresh load
	for attempt := 0; attempt < 2; attempt++ {
		s, err := c.loadOrCreate(ctx, req.RoomName)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.deleted {
			s.mu.Unlock()
			continue
		}
		res, err := c.join(ctx, s, req, sub)
		s.mu.Unlock()
		return res, err
	}
	return nil, fmt.Errorf("%w: room %q vanished during join", ErrConsistency, req.RoomName)
}

func (c *Coordinator) join(ctx context.Context, s *roomSession, req JoinRequest, sub Subscriber) (*JoinResult, error) {
	kind, err := roster.Evaluate(s.room, req.Username, req.SessionToken)
	if err != nil {
		return nil, err
	}

	if kind == roster.JoinRejoin {
		p := s.room.PlayerByName(req.Username)
		// a token signed by an earlier process or for another seat is as good as a stale one
		roomID, playerID, err := c.tokens.ParseSessionToken(req.SessionToken)
		if err != nil || roomID != s.room.ID || playerID != p.ID {
			c.roomLog(s.room).WithField("player_id", p.ID).WithError(err).Warn("rejoin with unverifiable session token")
			return nil, fmt.Errorf("%w: session token does not belong to this seat", roster.ErrUserConnected)
		}
		if sub != nil {
			c.pub.Subscribe(s.room.ID, p.ID, sub)
		}
		c.sendCards(s.room, p.ID)
		c.roomLog(s.room).WithField("player_id", p.ID).Info("player reconnected")
		c.logAction(s, p.ID, "rejoin", nil)
		return c.joinResult(s.room, p, kind), nil
	}

	next := s.room.Clone()
	p, dealt := roster.Join(next, kind, req.Username, "", s.rng)
	token, err := c.tokens.IssueSessionToken(next.ID, p.ID)
	if err != nil {
		if s.fresh {
			s.deleted = true
			c.sessions.remove(s)
		}
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	p.SessionToken = token

	if err := c.commit(ctx, s, next); err != nil {
		if s.fresh {
			s.deleted = true
			c.sessions.remove(s)
		}
		return nil, err
	}
	s.fresh = false

	if sub != nil {
		c.pub.Subscribe(s.room.ID, p.ID, sub)
	}
	c.broadcast(s.room, EventPlayerUpdate, p, map[string]interface{}{"action": kind.String()})
	c.sendCards(s.room, p.ID)

	c.roomLog(s.room).WithFields(logrus.Fields{
		"player_id": p.ID,
		"kind":      kind.String(),
		"dealt":     dealt,
	}).Info("player joined")
	c.logAction(s, p.ID, "join", map[string]interface{}{"kind": kind.String(), "dealt": dealt})
	return c.joinResult(s.room, p, kind), nil
}

func (c *Coordinator) joinResult(room *models.Room, p *models.Player, kind roster.JoinKind) *JoinResult {
	return &JoinResult{
		PlayerID:     p.ID,
		RoomID:       room.ID,
		SessionToken: p.SessionToken,
		Kind:         kind.String(),
		State:        Snapshot(room),
	}
}

// StartGame deals the opening hands and opens the first prompt round.
func (c *Coordinator) StartGame(ctx context.Context, roomID, playerID uuid.UUID, opts models.GameOptions) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		if _, err := activePlayer(s.room, playerID); err != nil {
			return err
		}
		if s.room.Phase != models.PhasePregame {
			return fmt.Errorf("%w: game already started", round.ErrPhaseViolation)
		}
		catalog, err := c.store.Catalog(ctx)
		if err != nil {
			return c.persistenceFailure(s, "load catalog", err)
		}

		next := s.room.Clone()
		st, err := round.BeginGame(next, opts, catalog, s.rng)
		if err != nil {
			return c.classify(s, err)
		}
		if err := c.commit(ctx, s, next); err != nil {
			return err
		}

		c.publishSteps(s, st)
		c.roomLog(s.room).WithFields(logrus.Fields{
			"player_id": playerID,
			"hand_size": s.room.HandSize,
			"pool":      len(s.room.Cards),
		}).Info("game started")
		c.logAction(s, playerID, "start_game", map[string]interface{}{
			"hand_size":   s.room.HandSize,
			"equal_hands": s.room.EqualHands,
			"pool":        len(s.room.Cards),
		})
		return nil
	})
}

// SubmitPrompt plays the turn holder's card with its phrase.
func (c *Coordinator) SubmitPrompt(ctx context.Context, roomID, playerID, cardID uuid.UUID, text string) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		if _, err := activePlayer(s.room, playerID); err != nil {
			return err
		}
		next := s.room.Clone()
		st, err := round.ReceivePrompt(next, playerID, cardID, text, s.rng)
		if err != nil {
			return c.classify(s, err)
		}
		if err := c.commit(ctx, s, next); err != nil {
			return err
		}

		p := s.room.Player(playerID)
		c.broadcast(s.room, EventOtherPrompt, p, map[string]interface{}{"prompt_text": s.room.PromptText})
		c.sendCards(s.room, playerID)
		c.publishSteps(s, st)
		c.logAction(s, playerID, "submit_prompt", map[string]interface{}{"card_id": cardID, "prompt_text": s.room.PromptText})
		return nil
	})
}

// SubmitSecret plays a waiting player's decoy card.
func (c *Coordinator) SubmitSecret(ctx context.Context, roomID, playerID, cardID uuid.UUID) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		if _, err := activePlayer(s.room, playerID); err != nil {
			return err
		}
		next := s.room.Clone()
		st, err := round.ReceiveSecret(next, playerID, cardID, s.rng)
		if err != nil {
			return c.classify(s, err)
		}
		if err := c.commit(ctx, s, next); err != nil {
			return err
		}

		c.broadcast(s.room, EventOtherSecret, s.room.Player(playerID), nil)
		c.sendCards(s.room, playerID)
		c.publishSteps(s, st)
		c.logAction(s, playerID, "submit_secret", map[string]interface{}{"card_id": cardID})
		return nil
	})
}

// SubmitGuess records a guess at the turn holder's card.
func (c *Coordinator) SubmitGuess(ctx context.Context, roomID, playerID, cardID uuid.UUID) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		if _, err := activePlayer(s.room, playerID); err != nil {
			return err
		}
		next := s.room.Clone()
		st, err := round.ReceiveGuess(next, playerID, cardID, s.rng)
		if err != nil {
			return c.classify(s, err)
		}
		if err := c.commit(ctx, s, next); err != nil {
			return err
		}

		c.broadcast(s.room, EventOtherGuess, s.room.Player(playerID), nil)
		c.publishSteps(s, st)
		c.logAction(s, playerID, "submit_guess", map[string]interface{}{"card_id": cardID})
		return nil
	})
}

// Leave takes a player out of the room. The last active player leaving deletes it.
func (c *Coordinator) Leave(ctx context.Context, roomID, playerID uuid.UUID) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		p, err := activePlayer(s.room, playerID)
		if err != nil {
			return err
		}
		user := &EventUser{ID: p.ID, Name: p.Name}

		next := s.room.Clone()
		res, _ := roster.Leave(next, playerID)
		if res.Remaining == 0 {
			return c.deleteLocked(ctx, s, playerID, "empty")
		}
		st, err := round.AfterLeave(next, res, s.rng)
		if err != nil {
			return c.classify(s, err)
		}
		if err := c.commit(ctx, s, next); err != nil {
			return err
		}

		c.publish(s.room, RoomEvent{
			Type:    EventPlayerUpdate,
			User:    user,
			State:   Snapshot(s.room),
			Payload: map[string]interface{}{"action": "leave"},
		})
		c.publishSteps(s, st)
		c.pub.Unsubscribe(s.room.ID, playerID, nil)

		c.roomLog(s.room).WithFields(logrus.Fields{
			"player_id":   playerID,
			"was_waiting": res.WasWaiting,
			"hard_delete": res.HardDeleted,
		}).Info("player left")
		c.logAction(s, playerID, "leave", map[string]interface{}{"hard_delete": res.HardDeleted})
		return nil
	})
}

// ShuffleSeating randomizes the seating of a pregame room.
func (c *Coordinator) ShuffleSeating(ctx context.Context, roomID, playerID uuid.UUID) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		if _, err := activePlayer(s.room, playerID); err != nil {
			return err
		}
		next := s.room.Clone()
		if err := roster.ShuffleSeating(next, s.rng); err != nil {
			return err
		}
		if err := c.commit(ctx, s, next); err != nil {
			return err
		}
		c.broadcast(s.room, EventPlayerUpdate, nil, map[string]interface{}{"action": "shuffle"})
		c.logAction(s, playerID, "shuffle_seating", nil)
		return nil
	})
}

// ResetRoom zeroes every score and returns the room to pregame.
func (c *Coordinator) ResetRoom(ctx context.Context, roomID, playerID uuid.UUID) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		if _, err := activePlayer(s.room, playerID); err != nil {
			return err
		}
		if s.room.Phase == models.PhaseEnd {
			return roster.ErrGameEnded
		}
		next := s.room.Clone()
		round.Reset(next)
		if err := c.commit(ctx, s, next); err != nil {
			return err
		}
		c.broadcast(s.room, EventResetRoom, nil, nil)
		c.sendAllCards(s.room)
		c.roomLog(s.room).Info("room reset")
		c.logAction(s, playerID, "reset_room", nil)
		return nil
	})
}

// DeleteRoom removes a room, its players and its cards.
func (c *Coordinator) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	return c.withRoom(ctx, roomID, func(s *roomSession) error {
		return c.deleteLocked(ctx, s, uuid.Nil, "deleted")
	})
}

// Roster returns the active players of a room by seat.
func (c *Coordinator) Roster(ctx context.Context, roomID uuid.UUID) ([]RosterRow, error) {
	var rows []RosterRow
	err := c.withRoom(ctx, roomID, func(s *roomSession) error {
		rows = Roster(s.room)
		return nil
	})
	return rows, err
}

// State returns a public snapshot of a room.
func (c *Coordinator) State(ctx context.Context, roomID uuid.UUID) (*RoomState, error) {
	var st *RoomState
	err := c.withRoom(ctx, roomID, func(s *roomSession) error {
		st = Snapshot(s.room)
		return nil
	})
	return st, err
}

// Artists lists the catalog's artists with their card counts.
func (c *Coordinator) Artists(ctx context.Context) ([]models.ArtistCount, error) {
	counts, err := c.store.ArtistCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: artist counts: %v", ErrPersistence, err)
	}
	return counts, nil
}

// Disconnect detaches a connection from its room. The player stays in the game.
func (c *Coordinator) Disconnect(roomID, playerID uuid.UUID, sub Subscriber) {
	c.pub.Unsubscribe(roomID, playerID, sub)
	c.log.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID}).Debug("connection detached")
}

func (c *Coordinator) deleteLocked(ctx context.Context, s *roomSession, actor uuid.UUID, reason string) error {
	if !s.fresh {
		if err := c.store.DeleteRoom(ctx, s.room.ID); err != nil && !errors.Is(err, models.ErrRoomNotFound) {
			return c.persistenceFailure(s, "delete room", err)
		}
	}
	s.deleted = true
	c.sessions.bury(s)

	c.publish(s.room, RoomEvent{
		Type:    EventDeleteRoom,
		Payload: map[string]interface{}{"reason": reason},
	})
	c.pub.CloseRoom(s.room.ID)
	c.roomLog(s.room).WithField("reason", reason).Info("room deleted")
	c.logAction(s, actor, "delete_room", map[string]interface{}{"reason": reason})
	return nil
}

func (c *Coordinator) loadOrCreate(ctx context.Context, name string) (*roomSession, error) {
	if s := c.sessions.getByName(name); s != nil {
		return s, nil
	}
	fresh := false
	room, err := c.store.LoadRoomByName(ctx, name)
	switch {
	case errors.Is(err, models.ErrRoomNotFound):
		room = models.NewRoom(name)
		fresh = true
	case err != nil:
		return nil, fmt.Errorf("%w: load room %q: %v", ErrPersistence, name, err)
	}
	if s := c.sessions.add(c.newSession(room, fresh)); s != nil {
		return s, nil
	}
	// the row we read was deleted meanwhile, so the name is free again
	return c.sessions.add(c.newSession(models.NewRoom(name), true)), nil
}

func (c *Coordinator) load(ctx context.Context, id uuid.UUID) (*roomSession, error) {
	if s := c.sessions.get(id); s != nil {
		return s, nil
	}
	room, err := c.store.LoadRoom(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load room %s: %v", ErrPersistence, id, err)
	}
	s := c.sessions.add(c.newSession(room, false))
	if s == nil {
		return nil, models.ErrRoomNotFound
	}
	return s, nil
}

func (c *Coordinator) newSession(room *models.Room, fresh bool) *roomSession {
	return &roomSession{room: room, rng: c.NewRand(), fresh: fresh, loadID: uuid.New()}
}

// withRoom runs fn while holding the room's lock.
func (c *Coordinator) withRoom(ctx context.Context, roomID uuid.UUID, fn func(s *roomSession) error) error {
	s, err := c.load(ctx, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return models.ErrRoomNotFound
	}
	return fn(s)
}

// commit persists next and, only once that succeeded, makes it the live room.
func (c *Coordinator) commit(ctx context.Context, s *roomSession, next *models.Room) error {
	if err := c.store.SaveRoom(ctx, next); err != nil {
		return c.persistenceFailure(s, "save room", err)
	}
	s.room = next
	return nil
}

func (c *Coordinator) persistenceFailure(s *roomSession, op string, err error) error {
	c.roomLog(s.room).WithError(err).Errorf("failed to %s", op)
	c.publish(s.room, RoomEvent{
		Type:    EventServerError,
		Payload: map[string]interface{}{"type": "persistence"},
	})
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// classify turns round failures that no request can cause into consistency errors.
func (c *Coordinator) classify(s *roomSession, err error) error {
	if !errors.Is(err, round.ErrNoActivePlayers) {
		return err
	}
	c.roomLog(s.room).WithError(err).Error("room aggregate is inconsistent")
	c.publish(s.room, RoomEvent{
		Type:    EventServerError,
		Payload: map[string]interface{}{"type": "consistency"},
	})
	return fmt.Errorf("%w: %v", ErrConsistency, err)
}

// publishSteps emits the events for every transition an action triggered.
func (c *Coordinator) publishSteps(s *roomSession, st round.Steps) {
	room := s.room
	if st.GuessRound {
		order := make([]map[string]interface{}, 0, len(st.GuessTable))
		for _, card := range st.GuessTable {
			order = append(order, map[string]interface{}{
				"card_id":       card.ID,
				"filename":      card.Filename,
				"display_order": card.DisplayOrder,
			})
		}
		sort.SliceStable(order, func(i, j int) bool {
			return order[i]["display_order"].(int) < order[j]["display_order"].(int)
		})
		c.broadcast(room, EventRoundGuess, nil, map[string]interface{}{"display_order": order})
		if room.Phase == models.PhaseGuess {
			c.sendAllCards(room)
		}
	}
	if st.Reveal != nil {
		c.broadcast(room, EventRevealGuess, nil, revealPayload(st.Reveal))
		c.broadcast(room, EventEndTurn, nil, map[string]interface{}{
			"round_number": st.Reveal.RoundNumber,
			"roster":       Roster(room),
		})
	}
	if st.Ended {
		c.broadcast(room, EventEndGame, nil, map[string]interface{}{
			"winners": st.Winners,
			"roster":  Roster(room),
		})
		c.roomLog(room).WithField("winners", st.Winners).Info("game ended")
	}
	if st.NewTurn {
		c.broadcast(room, EventRoundPrompt, nil, map[string]interface{}{"turn_player_id": room.TurnPlayerID})
		c.sendAllCards(room)
	}
}

func (c *Coordinator) broadcast(room *models.Room, typ RoomEventType, p *models.Player, payload map[string]interface{}) {
	ev := RoomEvent{
		Type:    typ,
		State:   Snapshot(room),
		Payload: payload,
	}
	if p != nil {
		ev.User = &EventUser{ID: p.ID, Name: p.Name}
	}
	c.publish(room, ev)
}

func (c *Coordinator) publish(room *models.Room, ev RoomEvent) {
	ev.RoomID = room.ID
	c.pub.Broadcast(room.ID, ev)
}

func (c *Coordinator) sendCards(room *models.Room, playerID uuid.UUID) {
	c.pub.SendToPlayer(room.ID, playerID, RoomEvent{
		Type:    EventCardUpdate,
		RoomID:  room.ID,
		Payload: cardView(room, playerID),
	})
}

func (c *Coordinator) sendAllCards(room *models.Room) {
	for _, p := range roster.ActivePlayers(room) {
		c.sendCards(room, p.ID)
	}
}

// logAction publishes an action record asynchronously. Failures are only logged.
func (c *Coordinator) logAction(s *roomSession, actorID uuid.UUID, actionType string, payload map[string]interface{}) {
	if c.actions == nil {
		return
	}
	s.actionIndex++
	if payload == nil {
		payload = make(map[string]interface{})
	}
	rec := models.RoomAction{
		RoomID:      s.room.ID,
		LoadID:      s.loadID,
		ActionIndex: s.actionIndex,
		PlayerID:    actorID,
		ActionType:  actionType,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	go func(rec models.RoomAction) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.actions.PublishRoomAction(ctx, rec); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"room_id": rec.RoomID,
				"action":  rec.ActionType,
			}).Warn("failed to publish room action")
		}
	}(rec)
}

func (c *Coordinator) roomLog(room *models.Room) *logrus.Entry {
	return c.log.WithFields(logrus.Fields{"room_id": room.ID, "room": room.Name})
}

func activePlayer(room *models.Room, playerID uuid.UUID) (*models.Player, error) {
	p := room.Player(playerID)
	if p == nil || !p.Active() {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	return p, nil
}
