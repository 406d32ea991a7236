package models

import "github.com/google/uuid"

// LifecycleState tracks a player's participation in the current round.
type LifecycleState string

const (
	// StateJoin is a player who joined but has not yet taken part in a round.
	StateJoin LifecycleState = "join"
	StateIdle LifecycleState = "idle"
	// StateWait marks a player the round is waiting on.
	StateWait LifecycleState = "wait"
	StateLeft LifecycleState = "left"
)

type Player struct {
	ID           uuid.UUID      `json:"player_id"`
	Name         string         `json:"name"`
	RoomID       uuid.UUID      `json:"room_id"`
	SessionToken string         `json:"-"`
	State        LifecycleState `json:"lifecycle_state"`
	TurnOrder    int            `json:"turn_order"`
	TurnRecency  int            `json:"turn_recency"`
	Score        int            `json:"score"`

	// CurrentGuess is the table card guessed this round, uuid.Nil when none.
	CurrentGuess uuid.UUID `json:"current_guess"`
}

// Active reports whether the player still takes part in the room.
func (p *Player) Active() bool {
	return p.State != StateLeft
}
