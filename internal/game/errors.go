// internal/game/errors.go
package game

import (
	"errors"

	"github.com/jason-s-yu/storyteller/internal/deck"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/jason-s-yu/storyteller/internal/roster"
	"github.com/jason-s-yu/storyteller/internal/round"
)

var (
	// ErrPlayerNotFound means the acting player is not an active member of the room.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrBadRequest is returned for requests missing a required field.
	ErrBadRequest = errors.New("bad request")
	// ErrPersistence wraps any storage failure. The room is left unchanged.
	ErrPersistence = errors.New("persistence failure")
	// ErrConsistency means the room aggregate is in a state no operation should produce.
	ErrConsistency = errors.New("consistency failure")
)

var reasons = []struct {
	err    error
	reason string
}{
	{roster.ErrUserConnected, "user_connected"},
	{roster.ErrGameEnded, "game_ended"},
	{roster.ErrSeatingLocked, "phase_violation"},
	{round.ErrPhaseViolation, "phase_violation"},
	{round.ErrNotTurnHolder, "not_turn_holder"},
	{round.ErrNotWaiting, "not_waiting"},
	{round.ErrInvalidCard, "invalid_card"},
	{round.ErrEmptyPrompt, "empty_prompt"},
	{round.ErrNotEnoughPlayers, "not_enough_players"},
	{deck.ErrDeckExhausted, "deck_exhausted"},
	{deck.ErrInvalidMask, "invalid_deck_mask"},
	{models.ErrRoomNotFound, "room_not_found"},
	{ErrPlayerNotFound, "player_not_found"},
	{ErrBadRequest, "bad_request"},
	{ErrPersistence, "persistence"},
	{ErrConsistency, "consistency"},
}

// Reason maps an operation error to the reason code sent back in an ack.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
