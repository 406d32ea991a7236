// internal/roster/roster.go
package roster

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/deck"
	"github.com/jason-s-yu/storyteller/internal/models"
)

var (
	// ErrUserConnected means another live session already plays under this name.
	ErrUserConnected = errors.New("user_connected")
	// ErrGameEnded means the room reached its end phase and takes no more joins.
	ErrGameEnded = errors.New("game_ended")
	// ErrSeatingLocked is returned when seating is shuffled outside pregame.
	ErrSeatingLocked = errors.New("seating can only change before the game starts")
)

// JoinKind is the outcome of the join eligibility check.
type JoinKind int

const (
	// JoinNew creates a brand-new player record.
	JoinNew JoinKind = iota
	// JoinRejoin reconnects a live session with a matching token; nothing is mutated.
	JoinRejoin
	// JoinReactivate revives a left record under a fresh token.
	JoinReactivate
)

func (k JoinKind) String() string {
	switch k {
	case JoinRejoin:
		return "rejoin"
	case JoinReactivate:
		return "reactivate"
	default:
		return "new"
	}
}

// Evaluate decides whether name may join room with the given session token.
// A nil room means the room does not exist yet and the joiner will create it.
func Evaluate(room *models.Room, name, token string) (JoinKind, error) {
	if room == nil {
		return JoinNew, nil
	}
	if room.Phase == models.PhaseEnd {
		return 0, ErrGameEnded
	}
	existing := room.PlayerByName(name)
	switch {
	case existing == nil:
		return JoinNew, nil
	case existing.State == models.StateLeft:
		return JoinReactivate, nil
	case token != "" && existing.SessionToken == token:
		return JoinRejoin, nil
	default:
		return 0, ErrUserConnected
	}
}

// Join applies an eligible join decision and returns the joining player.
// For JoinNew and JoinReactivate, the player is seated last with the given fresh token.
// The returned count is the number of cards dealt to the joiner.
func Join(room *models.Room, kind JoinKind, name, token string, rng *rand.Rand) (*models.Player, int) {
	if kind == JoinRejoin {
		return room.PlayerByName(name), 0
	}

	p := room.PlayerByName(name)
	if p == nil {
		p = &models.Player{
			ID:     uuid.New(),
			Name:   name,
			RoomID: room.ID,
		}
		room.Players = append(room.Players, p)
	}
	p.SessionToken = token
	p.State = models.StateJoin
	p.CurrentGuess = uuid.Nil
	p.TurnOrder = nextSeat(room, p.ID)

	FixTurnRecency(room, room.TurnPlayerID)

	dealt := 0
	if n := JoinHandSize(room); n > 0 {
		dealt = deck.DealToOne(room, p.ID, n, rng).Dealt
	}
	return p, dealt
}

// JoinHandSize is the hand a player joining right now should receive.
// Joining once a card has been played this round costs one card, since the
// joiner will be topped up with everyone else at the end of the round.
func JoinHandSize(room *models.Room) int {
	switch room.Phase {
	case models.PhasePrompt:
		return room.HandSize
	case models.PhaseSecret, models.PhaseGuess:
		if room.HandSize > 1 {
			return room.HandSize - 1
		}
		return 0
	default:
		return 0
	}
}

// LeaveResult reports what a departure disturbed.
type LeaveResult struct {
	WasWaiting    bool
	WasTurnHolder bool
	HardDeleted   bool
	Remaining     int
}

// Leave removes a player from play. During a round the record is kept in the
// left state so scoring and turn math still resolve; otherwise it is removed.
func Leave(room *models.Room, playerID uuid.UUID) (LeaveResult, bool) {
	p := room.Player(playerID)
	if p == nil || !p.Active() {
		return LeaveResult{}, false
	}
	res := LeaveResult{
		WasWaiting:    p.State == models.StateWait,
		WasTurnHolder: room.TurnPlayerID == playerID,
	}
	anchor := room.TurnPlayerID
	if res.WasTurnHolder {
		// the departing holder's successor becomes the most overdue seat
		anchor = predecessor(room, playerID)
	}

	deck.ReturnToDeck(room, playerID)
	p.CurrentGuess = uuid.Nil
	p.State = models.StateLeft

	if !room.Phase.InRound() {
		removePlayer(room, playerID)
		res.HardDeleted = true
	}

	FixTurnRecency(room, anchor)
	res.Remaining = len(ActivePlayers(room))
	return res, true
}

// Purge hard-deletes every left player. Cards they still own go to the discard pile.
func Purge(room *models.Room) int {
	var left []uuid.UUID
	for _, p := range room.Players {
		if p.State == models.StateLeft {
			left = append(left, p.ID)
		}
	}
	for _, id := range left {
		removePlayer(room, id)
	}
	return len(left)
}

func removePlayer(room *models.Room, playerID uuid.UUID) {
	for _, c := range room.Cards {
		if c.OwnerID != playerID {
			continue
		}
		if c.State == models.CardHand {
			c.State = models.CardDeck
		} else {
			c.State = models.CardDiscard
			c.DisplayOrder = 0
		}
		c.OwnerID = uuid.Nil
	}
	kept := room.Players[:0]
	for _, p := range room.Players {
		if p.ID != playerID {
			kept = append(kept, p)
		}
	}
	room.Players = kept
	if room.TurnPlayerID == playerID {
		room.TurnPlayerID = uuid.Nil
	}
}

// predecessor is the active player seated just before playerID, wrapping around.
func predecessor(room *models.Room, playerID uuid.UUID) uuid.UUID {
	active := ActivePlayers(room)
	n := len(active)
	for i, p := range active {
		if p.ID == playerID {
			if n == 1 {
				return uuid.Nil
			}
			return active[(i+n-1)%n].ID
		}
	}
	return uuid.Nil
}

// ActivePlayers returns the non-left players ordered by seat.
func ActivePlayers(room *models.Room) []*models.Player {
	var out []*models.Player
	for _, p := range room.Players {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TurnOrder < out[j].TurnOrder })
	return out
}

// FixTurnRecency recomputes recency for every active player as the circular
// distance back from anchor in seating order, so the anchor gets 0 and the seat
// right after it gets n-1. A nil or inactive anchor defaults to the last seat.
func FixTurnRecency(room *models.Room, anchor uuid.UUID) {
	active := ActivePlayers(room)
	n := len(active)
	if n == 0 {
		return
	}
	a := n - 1
	for i, p := range active {
		if p.ID == anchor {
			a = i
			break
		}
	}
	for i, p := range active {
		p.TurnRecency = ((a-i)%n + n) % n
	}
}

// ShuffleSeating deals a uniformly random seating permutation to the active players.
func ShuffleSeating(room *models.Room, rng *rand.Rand) error {
	if room.Phase != models.PhasePregame {
		return ErrSeatingLocked
	}
	active := ActivePlayers(room)
	seats := rng.Perm(len(active))
	for i, p := range active {
		p.TurnOrder = seats[i]
	}
	FixTurnRecency(room, uuid.Nil)
	return nil
}

func nextSeat(room *models.Room, self uuid.UUID) int {
	seat := 0
	for _, p := range room.Players {
		if p.ID != self && p.TurnOrder >= seat {
			seat = p.TurnOrder + 1
		}
	}
	return seat
}
