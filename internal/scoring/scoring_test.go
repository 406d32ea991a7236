package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type table struct {
	holder, a, b, c uuid.UUID

	holderCard, aCard, bCard, cCard uuid.UUID
}

func newTable() table {
	return table{
		holder: uuid.New(), a: uuid.New(), b: uuid.New(), c: uuid.New(),
		holderCard: uuid.New(), aCard: uuid.New(), bCard: uuid.New(), cCard: uuid.New(),
	}
}

func (tb table) round(guesses map[uuid.UUID]uuid.UUID) Round {
	return Round{
		TurnHolder: tb.holder,
		CardOwners: map[uuid.UUID]uuid.UUID{
			tb.holderCard: tb.holder,
			tb.aCard:      tb.a,
			tb.bCard:      tb.b,
			tb.cCard:      tb.c,
		},
		Guesses: guesses,
	}
}

func TestScoreMixed(t *testing.T) {
	tb := newTable()
	got := Score(tb.round(map[uuid.UUID]uuid.UUID{
		tb.a: tb.holderCard,
		tb.b: tb.cCard,
		tb.c: tb.bCard,
	}))
	assert.Equal(t, map[uuid.UUID]int{
		tb.holder: 3,
		tb.a:      3,
		tb.b:      1,
		tb.c:      1,
	}, got)
}

func TestScoreWrongGuessesStack(t *testing.T) {
	tb := newTable()
	got := Score(tb.round(map[uuid.UUID]uuid.UUID{
		tb.a: tb.holderCard,
		tb.b: tb.aCard,
		tb.c: tb.aCard,
	}))
	assert.Equal(t, 3, got[tb.holder])
	assert.Equal(t, 3+2, got[tb.a])
	assert.Zero(t, got[tb.b])
	assert.Zero(t, got[tb.c])
}

func TestScoreAllWrong(t *testing.T) {
	tb := newTable()
	got := Score(tb.round(map[uuid.UUID]uuid.UUID{
		tb.a: tb.bCard,
		tb.b: tb.cCard,
		tb.c: tb.aCard,
	}))
	assert.Equal(t, map[uuid.UUID]int{
		tb.holder: 3,
		tb.a:      2,
		tb.b:      2,
		tb.c:      2,
	}, got)
}

func TestScoreAllCorrect(t *testing.T) {
	tb := newTable()
	got := Score(tb.round(map[uuid.UUID]uuid.UUID{
		tb.a: tb.holderCard,
		tb.b: tb.holderCard,
		tb.c: tb.holderCard,
	}))
	assert.Equal(t, map[uuid.UUID]int{tb.a: 3, tb.b: 3, tb.c: 3}, got)
	_, holderScored := got[tb.holder]
	assert.False(t, holderScored)
}

func TestScoreNoGuessers(t *testing.T) {
	tb := newTable()
	assert.Empty(t, Score(tb.round(nil)))
}

func TestScoreCorrectGuesserAlsoCollectsVotes(t *testing.T) {
	tb := newTable()
	got := Score(tb.round(map[uuid.UUID]uuid.UUID{
		tb.a: tb.holderCard,
		tb.b: tb.aCard,
	}))
	assert.Equal(t, map[uuid.UUID]int{tb.holder: 3, tb.a: 4}, got)
}
