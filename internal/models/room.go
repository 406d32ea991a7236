// internal/models/room.go
package models

import (
	"errors"

	"github.com/google/uuid"
)

// ErrRoomNotFound is returned by stores and the coordinator when no room matches.
var ErrRoomNotFound = errors.New("room not found")

// Phase is the round state machine state of a room.
type Phase string

const (
	PhasePregame Phase = "pregame"
	PhasePrompt  Phase = "prompt"
	PhaseSecret  Phase = "secret"
	PhaseGuess   Phase = "guess"
	PhaseEnd     Phase = "end"
)

// InRound reports whether a round is in progress, i.e. players must be
// soft-deleted rather than removed.
func (p Phase) InRound() bool {
	return p == PhasePrompt || p == PhaseSecret || p == PhaseGuess
}

// Room is the aggregate for one play session: its settings, its roster and its cards.
// A Room is owned by exactly one coordinator session and is never shared across goroutines
// without that session's lock.
type Room struct {
	ID           uuid.UUID `json:"room_id"`
	Name         string    `json:"name"`
	Phase        Phase     `json:"phase"`
	TurnPlayerID uuid.UUID `json:"turn_player_id"`
	PromptText   string    `json:"prompt_text"`
	HandSize     int       `json:"hand_size"`
	EqualHands   bool      `json:"equal_hands"`
	WinScore     int       `json:"win_score"`
	RoundLimit   int       `json:"round_limit"`
	RoundNumber  int       `json:"round_number"`

	Players []*Player `json:"-"`
	Cards   []*Card   `json:"-"`
}

// DefaultHandSize is used when a game is started without an explicit hand size.
const DefaultHandSize = 6

// NewRoom builds an empty pregame room with a fresh identifier.
func NewRoom(name string) *Room {
	return &Room{
		ID:         uuid.New(),
		Name:       name,
		Phase:      PhasePregame,
		HandSize:   DefaultHandSize,
		EqualHands: true,
	}
}

// Clone returns a deep copy of the room, its players and its cards.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = make([]*Player, len(r.Players))
	for i, p := range r.Players {
		pc := *p
		c.Players[i] = &pc
	}
	c.Cards = make([]*Card, len(r.Cards))
	for i, card := range r.Cards {
		cc := *card
		c.Cards[i] = &cc
	}
	return &c
}

// Player looks up a player (in any lifecycle state) by ID.
func (r *Room) Player(id uuid.UUID) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerByName looks up a player (in any lifecycle state) by display name.
func (r *Room) PlayerByName(name string) *Player {
	for _, p := range r.Players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Card looks up a card by ID.
func (r *Room) Card(id uuid.UUID) *Card {
	for _, c := range r.Cards {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// CardsIn returns the cards in the given state, in storage order.
func (r *Room) CardsIn(state CardState) []*Card {
	var out []*Card
	for _, c := range r.Cards {
		if c.State == state {
			out = append(out, c)
		}
	}
	return out
}

// Hand returns the cards a player currently holds.
func (r *Room) Hand(playerID uuid.UUID) []*Card {
	var out []*Card
	for _, c := range r.Cards {
		if c.State == CardHand && c.OwnerID == playerID {
			out = append(out, c)
		}
	}
	return out
}

// TableCardOf returns the card a player put on the table this round, or nil.
func (r *Room) TableCardOf(playerID uuid.UUID) *Card {
	for _, c := range r.Cards {
		if c.State == CardTable && c.OwnerID == playerID {
			return c
		}
	}
	return nil
}

// GameOptions are the settings supplied with start_game.
type GameOptions struct {
	HandSize     int      `json:"hand_size"`
	EqualHands   bool     `json:"equal_hands"`
	WinScore     int      `json:"win_score,omitempty"`
	RoundLimit   int      `json:"round_limit,omitempty"`
	DeckLimit    int      `json:"deck_limit,omitempty"`
	ArtistFilter []string `json:"artist_filter,omitempty"`
	CustomMask   string   `json:"custom_deck_mask,omitempty"`
}
