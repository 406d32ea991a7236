// internal/game/events.go
package game

import (
	"sort"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/deck"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/jason-s-yu/storyteller/internal/roster"
	"github.com/jason-s-yu/storyteller/internal/round"
)

// RoomEventType names an outbound room event.
type RoomEventType string

const (
	EventPlayerUpdate RoomEventType = "player_update"
	EventRoundPrompt  RoomEventType = "round_prompt"
	EventOtherPrompt  RoomEventType = "other_prompt"
	EventOtherSecret  RoomEventType = "other_secret"
	EventRoundGuess   RoomEventType = "round_guess"
	EventOtherGuess   RoomEventType = "other_guess"
	EventRevealGuess  RoomEventType = "reveal_guess"
	EventEndTurn      RoomEventType = "end_turn"
	EventEndGame      RoomEventType = "end_game"
	EventResetRoom    RoomEventType = "reset_room"
	EventDeleteRoom   RoomEventType = "delete_room"
	EventServerError  RoomEventType = "server_error"

	// EventCardUpdate is private: each player only ever receives their own.
	EventCardUpdate RoomEventType = "card_update"
)

// EventUser identifies the player an event is about.
type EventUser struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
}

// EventCard is a card as shown to a client. OwnerID is only filled in when the
// recipient is allowed to know who played it.
type EventCard struct {
	ID           uuid.UUID        `json:"card_id"`
	Filename     string           `json:"filename"`
	Artist       string           `json:"artist"`
	State        models.CardState `json:"state"`
	DisplayOrder int              `json:"display_order,omitempty"`
	OwnerID      *uuid.UUID       `json:"owning_player_id,omitempty"`
}

// RoomEvent is everything the coordinator publishes to connected clients.
type RoomEvent struct {
	Type   RoomEventType `json:"type"`
	RoomID uuid.UUID     `json:"room_id"`
	User   *EventUser    `json:"user,omitempty"`
	State  *RoomState    `json:"room_state,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`
}

// RosterRow is the public view of one player.
type RosterRow struct {
	PlayerID    uuid.UUID             `json:"player_id"`
	Name        string                `json:"name"`
	State       models.LifecycleState `json:"lifecycle_state"`
	TurnOrder   int                   `json:"turn_order"`
	TurnRecency int                   `json:"turn_recency"`
	Score       int                   `json:"score"`
	HandCount   int                   `json:"hand_count"`
	Played      bool                  `json:"played"`
	Guessed     bool                  `json:"guessed"`
}

// RoomState is a point-in-time snapshot of a room that is safe to show every player.
type RoomState struct {
	models.Room
	Roster         []RosterRow `json:"roster"`
	TableCount     int         `json:"table_count"`
	RemainingCount int         `json:"remaining_count"`
}

// Snapshot builds the public state of room.
func Snapshot(room *models.Room) *RoomState {
	st := &RoomState{
		Room:           *room,
		Roster:         Roster(room),
		TableCount:     len(room.CardsIn(models.CardTable)),
		RemainingCount: deck.Remaining(room),
	}
	st.Room.Players = nil
	st.Room.Cards = nil
	return st
}

// Roster lists the active players by seat.
func Roster(room *models.Room) []RosterRow {
	active := roster.ActivePlayers(room)
	rows := make([]RosterRow, 0, len(active))
	for _, p := range active {
		rows = append(rows, RosterRow{
			PlayerID:    p.ID,
			Name:        p.Name,
			State:       p.State,
			TurnOrder:   p.TurnOrder,
			TurnRecency: p.TurnRecency,
			Score:       p.Score,
			HandCount:   len(room.Hand(p.ID)),
			Played:      room.TableCardOf(p.ID) != nil,
			Guessed:     p.CurrentGuess != uuid.Nil,
		})
	}
	return rows
}

func toEventCard(c *models.Card, revealOwner bool) EventCard {
	ec := EventCard{
		ID:           c.ID,
		Filename:     c.Filename,
		Artist:       c.Artist,
		State:        c.State,
		DisplayOrder: c.DisplayOrder,
	}
	if revealOwner && c.OwnerID != uuid.Nil {
		owner := c.OwnerID
		ec.OwnerID = &owner
	}
	return ec
}

// cardView is what one player may see: their hand, the table and the deck size.
// Until the guess round starts only the player's own table card is visible;
// afterwards every table card is shown in reveal order with owners hidden.
func cardView(room *models.Room, playerID uuid.UUID) map[string]interface{} {
	hand := []EventCard{}
	for _, c := range room.Hand(playerID) {
		hand = append(hand, toEventCard(c, true))
	}

	table := []EventCard{}
	for _, c := range room.CardsIn(models.CardTable) {
		mine := c.OwnerID == playerID
		if room.Phase != models.PhaseGuess && !mine {
			continue
		}
		table = append(table, toEventCard(c, mine))
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].DisplayOrder < table[j].DisplayOrder })

	return map[string]interface{}{
		"hand":            hand,
		"table":           table,
		"remaining_count": deck.Remaining(room),
	}
}

func revealPayload(rev *round.Reveal) map[string]interface{} {
	table := make([]EventCard, 0, len(rev.Table))
	for i := range rev.Table {
		table = append(table, toEventCard(&rev.Table[i], true))
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].DisplayOrder < table[j].DisplayOrder })

	guesses := make(map[string]string, len(rev.Guesses))
	for pid, cid := range rev.Guesses {
		guesses[pid.String()] = cid.String()
	}
	deltas := make(map[string]int, len(rev.Deltas))
	for pid, d := range rev.Deltas {
		deltas[pid.String()] = d
	}
	return map[string]interface{}{
		"round_number":   rev.RoundNumber,
		"turn_player_id": rev.TurnHolder,
		"prompt_text":    rev.PromptText,
		"answer_card_id": rev.HolderCard,
		"table":          table,
		"guesses":        guesses,
		"score_deltas":   deltas,
	}
}
