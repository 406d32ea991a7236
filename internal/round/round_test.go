package round

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/deck"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/jason-s-yu/storyteller/internal/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalog(n int) []models.CatalogCard {
	out := make([]models.CatalogCard, n)
	for i := range out {
		out[i] = models.CatalogCard{CatalogID: i + 1, Filename: fmt.Sprintf("%03d.png", i+1), Artist: "anon"}
	}
	return out
}

func seat(t *testing.T, n int) (*models.Room, *rand.Rand, []*models.Player) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	room := models.NewRoom("R")
	var players []*models.Player
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("p%d", i)
		kind, err := roster.Evaluate(room, name, "")
		require.NoError(t, err)
		p, _ := roster.Join(room, kind, name, "tok-"+name, rng)
		players = append(players, p)
	}
	return room, rng, players
}

func started(t *testing.T, n, catalogSize int, opts models.GameOptions) (*models.Room, *rand.Rand, []*models.Player) {
	t.Helper()
	room, rng, players := seat(t, n)
	if opts.HandSize == 0 {
		opts.HandSize = 6
	}
	st, err := BeginGame(room, opts, catalog(catalogSize), rng)
	require.NoError(t, err)
	require.True(t, st.NewTurn)
	return room, rng, players
}

func anyCard(room *models.Room, p *models.Player) uuid.UUID {
	return room.Hand(p.ID)[0].ID
}

// playRound has p0 prompt, everyone else play a secret, p1 find the prompt card
// and p2 vote for p1's card.
func playRound(t *testing.T, room *models.Room, rng *rand.Rand, players []*models.Player) Steps {
	t.Helper()
	p0, p1, p2 := players[0], players[1], players[2]
	require.Equal(t, p0.ID, room.TurnPlayerID)

	_, err := ReceivePrompt(room, p0.ID, anyCard(room, p0), "a long way home", rng)
	require.NoError(t, err)
	_, err = ReceiveSecret(room, p1.ID, anyCard(room, p1), rng)
	require.NoError(t, err)
	st, err := ReceiveSecret(room, p2.ID, anyCard(room, p2), rng)
	require.NoError(t, err)
	require.True(t, st.GuessRound)

	_, err = ReceiveGuess(room, p1.ID, room.TableCardOf(p0.ID).ID, rng)
	require.NoError(t, err)
	st, err = ReceiveGuess(room, p2.ID, room.TableCardOf(p1.ID).ID, rng)
	require.NoError(t, err)
	require.NotNil(t, st.Reveal)
	return st
}

func TestBeginGameRequiresTwoPlayers(t *testing.T) {
	room, rng, _ := seat(t, 1)
	_, err := BeginGame(room, models.GameOptions{HandSize: 6}, catalog(60), rng)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)
	assert.Equal(t, models.PhasePregame, room.Phase)
}

func TestBeginGameDealsAndPicksFirstHolder(t *testing.T) {
	room, _, players := started(t, 3, 60, models.GameOptions{EqualHands: true})

	assert.Equal(t, models.PhasePrompt, room.Phase)
	assert.Equal(t, 0, room.RoundNumber)
	for _, p := range players {
		assert.Len(t, room.Hand(p.ID), 6)
	}
	assert.Equal(t, 42, deck.Remaining(room))

	assert.Equal(t, players[0].ID, room.TurnPlayerID)
	assert.Equal(t, models.StateWait, players[0].State)
	assert.Equal(t, models.StateIdle, players[1].State)
	assert.Equal(t, []int{0, 2, 1}, []int{players[0].TurnRecency, players[1].TurnRecency, players[2].TurnRecency})
}

func TestBeginGameRejectsShortDeck(t *testing.T) {
	room, rng, _ := seat(t, 3)
	_, err := BeginGame(room, models.GameOptions{HandSize: 6}, catalog(10), rng)
	assert.ErrorIs(t, err, deck.ErrDeckExhausted)
	assert.Empty(t, room.Cards)
	assert.Equal(t, models.PhasePregame, room.Phase)

	_, err = BeginGame(room, models.GameOptions{HandSize: 6, CustomMask: "1x"}, catalog(60), rng)
	assert.ErrorIs(t, err, deck.ErrInvalidMask)
}

func TestBeginGameOnlyFromPregame(t *testing.T) {
	room, rng, _ := started(t, 3, 60, models.GameOptions{})
	_, err := BeginGame(room, models.GameOptions{}, catalog(60), rng)
	assert.ErrorIs(t, err, ErrPhaseViolation)
}

func TestFullRound(t *testing.T) {
	room, rng, players := started(t, 3, 60, models.GameOptions{EqualHands: true})
	st := playRound(t, room, rng, players)

	assert.Equal(t, map[uuid.UUID]int{players[0].ID: 3, players[1].ID: 4}, st.Reveal.Deltas)
	assert.Equal(t, 1, st.Reveal.RoundNumber)
	assert.Len(t, st.Reveal.Table, 3)
	assert.Equal(t, "a long way home", st.Reveal.PromptText)
	assert.True(t, st.NewTurn)
	assert.False(t, st.Ended)

	assert.Equal(t, 3, players[0].Score)
	assert.Equal(t, 4, players[1].Score)
	assert.Equal(t, 0, players[2].Score)

	assert.Equal(t, models.PhasePrompt, room.Phase)
	assert.Equal(t, players[1].ID, room.TurnPlayerID, "turn passes to the next seat")
	assert.Empty(t, room.CardsIn(models.CardTable))
	assert.Len(t, room.CardsIn(models.CardDiscard), 3)
	for _, p := range players {
		assert.Len(t, room.Hand(p.ID), 6)
		assert.Equal(t, uuid.Nil, p.CurrentGuess)
	}
}

func TestTurnRotatesThroughEverySeat(t *testing.T) {
	room, rng, players := started(t, 3, 90, models.GameOptions{EqualHands: true})
	var holders []uuid.UUID
	for i := 0; i < 3; i++ {
		holders = append(holders, room.TurnPlayerID)
		holder := room.Player(room.TurnPlayerID)
		_, err := ReceivePrompt(room, holder.ID, anyCard(room, holder), "x", rng)
		require.NoError(t, err)
		for _, p := range players {
			if p.ID != holder.ID {
				_, err = ReceiveSecret(room, p.ID, anyCard(room, p), rng)
				require.NoError(t, err)
			}
		}
		for _, p := range players {
			if p.ID != holder.ID {
				_, err = ReceiveGuess(room, p.ID, room.TableCardOf(holder.ID).ID, rng)
				require.NoError(t, err)
			}
		}
	}
	assert.Equal(t, []uuid.UUID{players[0].ID, players[1].ID, players[2].ID}, holders)
	assert.Equal(t, players[0].ID, room.TurnPlayerID)
}

func TestActionsOutsideTheirPhase(t *testing.T) {
	room, rng, players := started(t, 3, 60, models.GameOptions{})
	p0, p1, p2 := players[0], players[1], players[2]

	_, err := ReceiveSecret(room, p1.ID, anyCard(room, p1), rng)
	assert.ErrorIs(t, err, ErrPhaseViolation)
	_, err = ReceiveGuess(room, p1.ID, anyCard(room, p1), rng)
	assert.ErrorIs(t, err, ErrPhaseViolation)
	_, err = ReceivePrompt(room, p1.ID, anyCard(room, p1), "x", rng)
	assert.ErrorIs(t, err, ErrNotTurnHolder)
	_, err = ReceivePrompt(room, p0.ID, anyCard(room, p1), "x", rng)
	assert.ErrorIs(t, err, ErrInvalidCard)
	_, err = ReceivePrompt(room, p0.ID, anyCard(room, p0), "   ", rng)
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = ReceivePrompt(room, p0.ID, anyCard(room, p0), "x", rng)
	require.NoError(t, err)
	_, err = ReceivePrompt(room, p0.ID, anyCard(room, p0), "again", rng)
	assert.ErrorIs(t, err, ErrPhaseViolation)
	_, err = ReceiveSecret(room, p0.ID, anyCard(room, p0), rng)
	assert.ErrorIs(t, err, ErrNotWaiting, "the turn holder has already played")

	_, err = ReceiveSecret(room, p1.ID, anyCard(room, p1), rng)
	require.NoError(t, err)
	_, err = ReceiveSecret(room, p1.ID, anyCard(room, p1), rng)
	assert.ErrorIs(t, err, ErrNotWaiting)

	_, err = ReceiveSecret(room, p2.ID, anyCard(room, p2), rng)
	require.NoError(t, err)
	require.Equal(t, models.PhaseGuess, room.Phase)

	_, err = ReceiveGuess(room, p1.ID, room.TableCardOf(p1.ID).ID, rng)
	assert.ErrorIs(t, err, ErrInvalidCard, "own card")
	_, err = ReceiveGuess(room, p1.ID, anyCard(room, p1), rng)
	assert.ErrorIs(t, err, ErrInvalidCard, "card not on the table")
	_, err = ReceiveGuess(room, p0.ID, room.TableCardOf(p1.ID).ID, rng)
	assert.ErrorIs(t, err, ErrNotWaiting, "the turn holder does not guess")
}

func TestDisplayOrderIsAPermutation(t *testing.T) {
	room, rng, players := started(t, 4, 60, models.GameOptions{})
	_, err := ReceivePrompt(room, players[0].ID, anyCard(room, players[0]), "x", rng)
	require.NoError(t, err)
	for _, p := range players[1:] {
		_, err = ReceiveSecret(room, p.ID, anyCard(room, p), rng)
		require.NoError(t, err)
	}
	seen := map[int]bool{}
	for _, c := range room.CardsIn(models.CardTable) {
		seen[c.DisplayOrder] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true}, seen)
}

func TestLeaveUnblocksSecretPhase(t *testing.T) {
	room, rng, players := started(t, 3, 60, models.GameOptions{})
	p0, p1, p2 := players[0], players[1], players[2]

	_, err := ReceivePrompt(room, p0.ID, anyCard(room, p0), "x", rng)
	require.NoError(t, err)
	_, err = ReceiveSecret(room, p1.ID, anyCard(room, p1), rng)
	require.NoError(t, err)

	res, ok := roster.Leave(room, p2.ID)
	require.True(t, ok)
	st, err := AfterLeave(room, res, rng)
	require.NoError(t, err)
	assert.True(t, st.GuessRound)
	assert.Equal(t, models.PhaseGuess, room.Phase)
	assert.Equal(t, models.StateWait, p1.State)
	assert.Empty(t, room.Hand(p2.ID))

	st, err = ReceiveGuess(room, p1.ID, room.TableCardOf(p0.ID).ID, rng)
	require.NoError(t, err)
	require.NotNil(t, st.Reveal)
	assert.Equal(t, map[uuid.UUID]int{p1.ID: 3}, st.Reveal.Deltas, "everyone found the card")
	assert.Equal(t, 1, st.Reveal.Purged)
	assert.Len(t, room.Players, 2)
}

func TestTurnHolderLeavingBeforePromptStartsNextTurn(t *testing.T) {
	room, rng, players := started(t, 3, 60, models.GameOptions{})
	res, ok := roster.Leave(room, players[0].ID)
	require.True(t, ok)
	assert.True(t, res.WasTurnHolder)

	st, err := AfterLeave(room, res, rng)
	require.NoError(t, err)
	assert.True(t, st.NewTurn)
	assert.Equal(t, models.PhasePrompt, room.Phase)
	assert.Equal(t, players[1].ID, room.TurnPlayerID)
	assert.Equal(t, models.StateWait, players[1].State)
	assert.Equal(t, 48, deck.Remaining(room))
}

// playTurn has holder prompt, everyone else play a secret, and then everyone
// but skip guess the holder's card. It stops once the guess phase is open when
// skip is the holder.
func playTurn(t *testing.T, room *models.Room, rng *rand.Rand, players []*models.Player, holder, skip *models.Player) Steps {
	t.Helper()
	require.Equal(t, holder.ID, room.TurnPlayerID)
	_, err := ReceivePrompt(room, holder.ID, anyCard(room, holder), "north", rng)
	require.NoError(t, err)
	for _, p := range players {
		if p != holder {
			_, err = ReceiveSecret(room, p.ID, anyCard(room, p), rng)
			require.NoError(t, err)
		}
	}
	require.Equal(t, models.PhaseGuess, room.Phase)
	if skip == holder {
		return Steps{}
	}
	holderCard := room.TableCardOf(holder.ID).ID
	var st Steps
	for _, p := range players {
		if p != holder && p != skip {
			st, err = ReceiveGuess(room, p.ID, holderCard, rng)
			require.NoError(t, err)
		}
	}
	return st
}

func TestHolderLeavingPassesTurnToNextSeat(t *testing.T) {
	t.Run("before prompting", func(t *testing.T) {
		room, rng, players := started(t, 4, 80, models.GameOptions{})
		st := playTurn(t, room, rng, players, players[0], nil)
		require.True(t, st.NewTurn)
		require.Equal(t, players[1].ID, room.TurnPlayerID)

		res, ok := roster.Leave(room, players[1].ID)
		require.True(t, ok)
		require.True(t, res.WasTurnHolder)
		st, err := AfterLeave(room, res, rng)
		require.NoError(t, err)
		assert.True(t, st.NewTurn)
		assert.Equal(t, players[2].ID, room.TurnPlayerID)
		assert.Equal(t, models.StateWait, players[2].State)
	})

	t.Run("during guessing", func(t *testing.T) {
		room, rng, players := started(t, 4, 80, models.GameOptions{})
		playTurn(t, room, rng, players, players[0], nil)
		require.Equal(t, players[1].ID, room.TurnPlayerID)

		playTurn(t, room, rng, players, players[1], players[1])
		holderCard := room.TableCardOf(players[1].ID).ID
		res, ok := roster.Leave(room, players[1].ID)
		require.True(t, ok)
		st, err := AfterLeave(room, res, rng)
		require.NoError(t, err)
		require.Equal(t, models.PhaseGuess, room.Phase)

		for _, p := range []*models.Player{players[0], players[2], players[3]} {
			st, err = ReceiveGuess(room, p.ID, holderCard, rng)
			require.NoError(t, err)
		}
		require.True(t, st.NewTurn)
		assert.Equal(t, players[2].ID, room.TurnPlayerID)
		assert.Equal(t, 2, room.RoundNumber)
	})
}

func TestJoinerMidRoundDoesNotBlock(t *testing.T) {
	room, rng, players := started(t, 3, 60, models.GameOptions{})
	_, err := ReceivePrompt(room, players[0].ID, anyCard(room, players[0]), "x", rng)
	require.NoError(t, err)

	late, dealt := roster.Join(room, roster.JoinNew, "late", "tok-late", rng)
	assert.Equal(t, 5, dealt)
	assert.Equal(t, models.StateJoin, late.State)

	for _, p := range players[1:] {
		_, err = ReceiveSecret(room, p.ID, anyCard(room, p), rng)
		require.NoError(t, err)
	}
	assert.Equal(t, models.PhaseGuess, room.Phase)
	assert.Equal(t, models.StateJoin, late.State)

	var st Steps
	for _, p := range players[1:] {
		st, err = ReceiveGuess(room, p.ID, room.TableCardOf(players[0].ID).ID, rng)
		require.NoError(t, err)
	}
	require.True(t, st.NewTurn)
	assert.Len(t, room.Hand(late.ID), 6)
	assert.Equal(t, models.StateIdle, late.State)
}

func TestEndConditions(t *testing.T) {
	cases := []struct {
		name    string
		catalog int
		opts    models.GameOptions
	}{
		{"round limit", 60, models.GameOptions{EqualHands: true, RoundLimit: 1}},
		{"win score", 60, models.GameOptions{EqualHands: true, WinScore: 4}},
		{"equal hands refused", 20, models.GameOptions{EqualHands: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			room, rng, players := started(t, 3, tc.catalog, tc.opts)
			st := playRound(t, room, rng, players)

			assert.True(t, st.Ended)
			assert.False(t, st.NewTurn)
			assert.Equal(t, []uuid.UUID{players[1].ID}, st.Winners)
			assert.Equal(t, models.PhaseEnd, room.Phase)
			assert.True(t, Ready(room))
		})
	}
}

func TestUnequalHandsPlayOnUntilAHandEmpties(t *testing.T) {
	room, rng, players := started(t, 3, 20, models.GameOptions{EqualHands: false})
	st := playRound(t, room, rng, players)
	assert.False(t, st.Ended)
	assert.Equal(t, 2, st.Reveal.Dealt.Dealt)
	assert.Equal(t, models.PhasePrompt, room.Phase)
}

func TestTiedWinners(t *testing.T) {
	room, _, players := seat(t, 3)
	players[0].Score = 7
	players[1].Score = 5
	players[2].Score = 7
	assert.ElementsMatch(t, []uuid.UUID{players[0].ID, players[2].ID}, Winners(room))
}

func TestReset(t *testing.T) {
	room, rng, players := started(t, 3, 60, models.GameOptions{})
	playRound(t, room, rng, players)
	roster.Leave(room, players[2].ID)

	Reset(room)
	assert.Equal(t, models.PhasePregame, room.Phase)
	assert.Equal(t, uuid.Nil, room.TurnPlayerID)
	assert.Empty(t, room.Cards)
	assert.Len(t, room.Players, 2)
	for _, p := range room.Players {
		assert.Equal(t, 0, p.Score)
		assert.Equal(t, models.StateJoin, p.State)
	}

	_, err := BeginGame(room, models.GameOptions{HandSize: 4}, catalog(60), rng)
	require.NoError(t, err)
	assert.Len(t, room.Hand(players[0].ID), 4)
}
