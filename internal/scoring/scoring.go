// internal/scoring/scoring.go
package scoring

import "github.com/google/uuid"

const (
	CorrectGuessPoints  = 3
	TurnHolderPoints    = 3
	AllWrongPoints      = 2
	PointsPerWrongGuess = 1
)

// Round is everything the scoring engine needs about one finished guess round.
type Round struct {
	TurnHolder uuid.UUID
	// CardOwners maps every table card to the player who played it.
	CardOwners map[uuid.UUID]uuid.UUID
	// Guesses maps each guesser to the table card they picked.
	Guesses map[uuid.UUID]uuid.UUID
}

// Score returns the point delta of every player who earned something this round.
//
//   - A guesser who found the turn holder's card earns 3.
//   - The owner of a non-holder card earns 1 per guess that landed on it.
//   - If every guesser was wrong, each guesser earns a flat 2 instead of their
//     per-card tally, and the turn holder still earns 3.
//   - If every guesser was right, the turn holder earns nothing.
//   - Otherwise the turn holder earns 3.
//
// With no guessers nobody scores.
func Score(r Round) map[uuid.UUID]int {
	deltas := make(map[uuid.UUID]int)
	if len(r.Guesses) == 0 {
		return deltas
	}

	var holderCard uuid.UUID
	for card, owner := range r.CardOwners {
		if owner == r.TurnHolder {
			holderCard = card
			break
		}
	}

	correct := 0
	for guesser, card := range r.Guesses {
		if guesser == r.TurnHolder {
			continue
		}
		if holderCard != uuid.Nil && card == holderCard {
			correct++
		}
	}
	guessers := len(r.Guesses)
	if _, holderGuessed := r.Guesses[r.TurnHolder]; holderGuessed {
		guessers--
	}
	if guessers == 0 {
		return deltas
	}

	switch correct {
	case guessers:
		for guesser := range r.Guesses {
			if guesser != r.TurnHolder {
				deltas[guesser] += CorrectGuessPoints
			}
		}
	case 0:
		deltas[r.TurnHolder] += TurnHolderPoints
		for guesser := range r.Guesses {
			if guesser != r.TurnHolder {
				deltas[guesser] += AllWrongPoints
			}
		}
	default:
		deltas[r.TurnHolder] += TurnHolderPoints
		for guesser, card := range r.Guesses {
			if guesser == r.TurnHolder {
				continue
			}
			if card == holderCard {
				deltas[guesser] += CorrectGuessPoints
				continue
			}
			if owner, ok := r.CardOwners[card]; ok && owner != guesser && owner != r.TurnHolder {
				deltas[owner] += PointsPerWrongGuess
			}
		}
	}

	for id, d := range deltas {
		if d == 0 {
			delete(deltas, id)
		}
	}
	return deltas
}
