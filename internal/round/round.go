// internal/round/round.go
package round

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/deck"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/jason-s-yu/storyteller/internal/roster"
	"github.com/jason-s-yu/storyteller/internal/scoring"
)

// MinPlayers is the smallest roster a game can start with.
const MinPlayers = 2

var (
	// ErrPhaseViolation is returned for an action submitted in the wrong phase.
	ErrPhaseViolation   = errors.New("phase_violation")
	ErrNotTurnHolder    = errors.New("not_turn_holder")
	ErrNotWaiting       = errors.New("not_waiting")
	ErrInvalidCard      = errors.New("invalid_card")
	ErrEmptyPrompt      = errors.New("empty_prompt")
	ErrNotEnoughPlayers = errors.New("not_enough_players")
	// ErrNoActivePlayers means a turn was requested for a room nobody plays in.
	ErrNoActivePlayers = errors.New("no active players")
)

// Reveal is the record of one resolved guess round, captured before the table is cleared.
type Reveal struct {
	RoundNumber int
	TurnHolder  uuid.UUID
	HolderCard  uuid.UUID
	PromptText  string
	Table       []models.Card
	Guesses     map[uuid.UUID]uuid.UUID
	Deltas      map[uuid.UUID]int
	Purged      int
	Dealt       deck.DealResult
}

// Steps lists every transition an action triggered, in the order they fired.
type Steps struct {
	GuessRound bool
	// GuessTable is the table in reveal order, owners included, as the guess round opened.
	GuessTable []models.Card
	Reveal     *Reveal
	NewTurn    bool
	Ended      bool
	Winners    []uuid.UUID
}

// Ready is the readiness predicate: no active player is still being waited on.
func Ready(room *models.Room) bool {
	for _, p := range room.Players {
		if p.Active() && p.State == models.StateWait {
			return false
		}
	}
	return true
}

// BeginGame moves a pregame room into its first prompt round.
func BeginGame(room *models.Room, opts models.GameOptions, catalog []models.CatalogCard, rng *rand.Rand) (Steps, error) {
	if room.Phase != models.PhasePregame {
		return Steps{}, fmt.Errorf("%w: cannot start from %s", ErrPhaseViolation, room.Phase)
	}
	active := roster.ActivePlayers(room)
	if len(active) < MinPlayers {
		return Steps{}, fmt.Errorf("%w: %d of %d", ErrNotEnoughPlayers, len(active), MinPlayers)
	}

	room.HandSize = opts.HandSize
	if room.HandSize <= 0 {
		room.HandSize = models.DefaultHandSize
	}
	room.EqualHands = opts.EqualHands
	room.WinScore = opts.WinScore
	room.RoundLimit = opts.RoundLimit

	n, err := deck.BuildPool(room, catalog, deck.Filters{
		Artists: opts.ArtistFilter,
		Mask:    opts.CustomMask,
		Limit:   opts.DeckLimit,
	}, rng)
	if err != nil {
		return Steps{}, err
	}
	if n < room.HandSize*len(active) {
		room.Cards = nil
		return Steps{}, fmt.Errorf("%w: pool of %d cannot deal %d to %d players", deck.ErrDeckExhausted, n, room.HandSize, len(active))
	}
	deck.Deal(room, room.HandSize, rng)

	room.RoundNumber = 0
	for _, p := range room.Players {
		p.CurrentGuess = uuid.Nil
	}
	if err := BeginTurn(room); err != nil {
		return Steps{}, err
	}
	return Steps{NewTurn: true}, nil
}

// BeginTurn opens a prompt round. The most overdue player by recency holds the
// turn, ties going to the lower seat; the holder's recency drops to 0 and every
// other active player's grows by one.
func BeginTurn(room *models.Room) error {
	active := roster.ActivePlayers(room)
	if len(active) == 0 {
		return ErrNoActivePlayers
	}

	holder := active[0]
	for _, p := range active[1:] {
		if p.TurnRecency > holder.TurnRecency {
			holder = p
		}
	}

	deck.DiscardTable(room)
	room.Phase = models.PhasePrompt
	room.PromptText = ""
	room.TurnPlayerID = holder.ID
	for _, p := range active {
		p.CurrentGuess = uuid.Nil
		if p.ID == holder.ID {
			p.TurnRecency = 0
			p.State = models.StateWait
			continue
		}
		p.TurnRecency++
		p.State = models.StateIdle
	}
	return nil
}

// ReceivePrompt records the turn holder's phrase and card and opens the secret phase.
func ReceivePrompt(room *models.Room, playerID, cardID uuid.UUID, text string, rng *rand.Rand) (Steps, error) {
	if room.Phase != models.PhasePrompt {
		return Steps{}, fmt.Errorf("%w: prompt submitted during %s", ErrPhaseViolation, room.Phase)
	}
	if room.TurnPlayerID != playerID {
		return Steps{}, ErrNotTurnHolder
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Steps{}, ErrEmptyPrompt
	}
	if !deck.PlayToTable(room, playerID, cardID) {
		return Steps{}, fmt.Errorf("%w: card %s is not in hand", ErrInvalidCard, cardID)
	}

	room.PromptText = text
	room.Phase = models.PhaseSecret
	for _, p := range room.Players {
		if !p.Active() {
			continue
		}
		if p.ID == playerID {
			p.State = models.StateIdle
		} else {
			p.State = models.StateWait
		}
	}

	var st Steps
	err := settle(room, rng, &st)
	return st, err
}

// ReceiveSecret puts a waiting player's secret card on the table.
func ReceiveSecret(room *models.Room, playerID, cardID uuid.UUID, rng *rand.Rand) (Steps, error) {
	if room.Phase != models.PhaseSecret {
		return Steps{}, fmt.Errorf("%w: secret submitted during %s", ErrPhaseViolation, room.Phase)
	}
	p := room.Player(playerID)
	if p == nil || p.State != models.StateWait {
		return Steps{}, ErrNotWaiting
	}
	if !deck.PlayToTable(room, playerID, cardID) {
		return Steps{}, fmt.Errorf("%w: card %s is not in hand", ErrInvalidCard, cardID)
	}
	p.State = models.StateIdle

	var st Steps
	err := settle(room, rng, &st)
	return st, err
}

// StartGuessRound shuffles the reveal order and asks everyone who played a
// secret card to guess. It returns the table in reveal order.
func StartGuessRound(room *models.Room, rng *rand.Rand) []*models.Card {
	table := deck.AssignDisplayOrder(room, rng)
	room.Phase = models.PhaseGuess
	for _, p := range room.Players {
		if !p.Active() || p.ID == room.TurnPlayerID {
			continue
		}
		p.CurrentGuess = uuid.Nil
		if room.TableCardOf(p.ID) != nil {
			p.State = models.StateWait
		}
	}
	return table
}

// ReceiveGuess records a waiting player's guess at the turn holder's card.
func ReceiveGuess(room *models.Room, playerID, cardID uuid.UUID, rng *rand.Rand) (Steps, error) {
	if room.Phase != models.PhaseGuess {
		return Steps{}, fmt.Errorf("%w: guess submitted during %s", ErrPhaseViolation, room.Phase)
	}
	p := room.Player(playerID)
	if p == nil || p.State != models.StateWait {
		return Steps{}, ErrNotWaiting
	}
	c := room.Card(cardID)
	if c == nil || c.State != models.CardTable {
		return Steps{}, fmt.Errorf("%w: card %s is not on the table", ErrInvalidCard, cardID)
	}
	if c.OwnerID == playerID {
		return Steps{}, fmt.Errorf("%w: cannot guess your own card", ErrInvalidCard)
	}
	p.CurrentGuess = cardID
	p.State = models.StateIdle

	var st Steps
	err := settle(room, rng, &st)
	return st, err
}

// AfterLeave re-runs the readiness check once a player has left, so a departure
// can unblock the round exactly as that player's action would have.
func AfterLeave(room *models.Room, res roster.LeaveResult, rng *rand.Rand) (Steps, error) {
	var st Steps
	if res.Remaining == 0 || !room.Phase.InRound() {
		return st, nil
	}
	if !res.WasWaiting && !res.WasTurnHolder {
		return st, nil
	}
	err := settle(room, rng, &st)
	return st, err
}

// Reset returns a room to pregame with zeroed scores and no cards.
func Reset(room *models.Room) {
	roster.Purge(room)
	room.Cards = nil
	room.Phase = models.PhasePregame
	room.TurnPlayerID = uuid.Nil
	room.PromptText = ""
	room.RoundNumber = 0
	for _, p := range room.Players {
		p.Score = 0
		p.State = models.StateJoin
		p.CurrentGuess = uuid.Nil
	}
	roster.FixTurnRecency(room, uuid.Nil)
}

// settle fires every transition the readiness predicate allows.
func settle(room *models.Room, rng *rand.Rand, st *Steps) error {
	for Ready(room) {
		switch room.Phase {
		case models.PhaseSecret:
			for _, c := range StartGuessRound(room, rng) {
				st.GuessTable = append(st.GuessTable, *c)
			}
			st.GuessRound = true
		case models.PhaseGuess:
			rev, ended, winners := advanceTurn(room, rng)
			st.Reveal = rev
			if ended {
				st.Ended = true
				st.Winners = winners
				return nil
			}
			st.NewTurn = true
		case models.PhasePrompt:
			// only reachable when the turn holder left before prompting
			if err := BeginTurn(room); err != nil {
				return err
			}
			st.NewTurn = true
		default:
			return nil
		}
	}
	return nil
}

// advanceTurn scores the guess round, drops departed players, tops up hands and
// either opens the next prompt round or ends the game.
func advanceTurn(room *models.Room, rng *rand.Rand) (*Reveal, bool, []uuid.UUID) {
	rev := &Reveal{
		TurnHolder: room.TurnPlayerID,
		PromptText: room.PromptText,
		Guesses:    make(map[uuid.UUID]uuid.UUID),
	}
	owners := make(map[uuid.UUID]uuid.UUID)
	for _, c := range room.CardsIn(models.CardTable) {
		owners[c.ID] = c.OwnerID
		rev.Table = append(rev.Table, *c)
		if c.OwnerID == room.TurnPlayerID {
			rev.HolderCard = c.ID
		}
	}
	for _, p := range room.Players {
		if p.Active() && p.CurrentGuess != uuid.Nil {
			rev.Guesses[p.ID] = p.CurrentGuess
		}
	}

	rev.Deltas = scoring.Score(scoring.Round{
		TurnHolder: room.TurnPlayerID,
		CardOwners: owners,
		Guesses:    rev.Guesses,
	})
	for id, d := range rev.Deltas {
		if p := room.Player(id); p != nil {
			p.Score += d
		}
	}

	room.RoundNumber++
	rev.RoundNumber = room.RoundNumber
	rev.Purged = roster.Purge(room)
	rev.Dealt = deck.Deal(room, 1, rng)

	if ended := gameOver(room, rev.Dealt); ended {
		room.Phase = models.PhaseEnd
		for _, p := range roster.ActivePlayers(room) {
			p.State = models.StateIdle
		}
		return rev, true, Winners(room)
	}
	if err := BeginTurn(room); err != nil {
		room.Phase = models.PhaseEnd
		return rev, true, nil
	}
	return rev, false, nil
}

func gameOver(room *models.Room, dealt deck.DealResult) bool {
	active := roster.ActivePlayers(room)
	if len(active) == 0 {
		return true
	}
	if room.RoundLimit > 0 && room.RoundNumber >= room.RoundLimit {
		return true
	}
	if room.WinScore > 0 {
		for _, p := range active {
			if p.Score >= room.WinScore {
				return true
			}
		}
	}
	if room.EqualHands && dealt.Dealt < len(active) {
		return true
	}
	for _, p := range active {
		if len(room.Hand(p.ID)) == 0 {
			return true
		}
	}
	return false
}

// Winners returns every active player holding the top score.
func Winners(room *models.Room) []uuid.UUID {
	var winners []uuid.UUID
	best := 0
	for _, p := range roster.ActivePlayers(room) {
		switch {
		case len(winners) == 0 || p.Score > best:
			best = p.Score
			winners = []uuid.UUID{p.ID}
		case p.Score == best:
			winners = append(winners, p.ID)
		}
	}
	return winners
}
