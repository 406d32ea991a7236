// internal/deck/deck.go
package deck

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/models"
)

var (
	// ErrDeckExhausted means there are not enough cards to deal fairly.
	ErrDeckExhausted = errors.New("deck exhausted")

	// ErrInvalidMask is returned when a custom deck mask holds anything but '0' and '1'.
	ErrInvalidMask = errors.New("invalid custom deck mask")
)

// Filters narrows the catalog when building a room's pool.
type Filters struct {
	// Artists is an allow-list; empty means every artist.
	Artists []string
	// Mask picks ('1') or skips ('0') catalog entries by their position in catalog order.
	// Entries past the end of the mask are skipped. Empty means no mask.
	Mask string
	// Limit caps the pool to a random subset of this size when > 0.
	Limit int
}

// DealResult summarizes one dealing pass.
type DealResult struct {
	Dealt     int
	Remaining int
}

// BuildPool replaces every card of the room with a fresh deck drawn from the catalog.
// It returns the pool size; an empty pool is not an error here.
func BuildPool(room *models.Room, catalog []models.CatalogCard, f Filters, rng *rand.Rand) (int, error) {
	ordered := make([]models.CatalogCard, len(catalog))
	copy(ordered, catalog)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CatalogID < ordered[j].CatalogID })

	for _, ch := range f.Mask {
		if ch != '0' && ch != '1' {
			return 0, fmt.Errorf("%w: unexpected %q", ErrInvalidMask, ch)
		}
	}

	allowed := make(map[string]bool, len(f.Artists))
	for _, a := range f.Artists {
		allowed[a] = true
	}

	var picked []models.CatalogCard
	for i, cc := range ordered {
		if f.Mask != "" && (i >= len(f.Mask) || f.Mask[i] != '1') {
			continue
		}
		if len(allowed) > 0 && !allowed[cc.Artist] {
			continue
		}
		picked = append(picked, cc)
	}

	if f.Limit > 0 && f.Limit < len(picked) {
		shuffle(rng, len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
		picked = picked[:f.Limit]
	}

	room.Cards = make([]*models.Card, 0, len(picked))
	for _, cc := range picked {
		room.Cards = append(room.Cards, &models.Card{
			ID:       uuid.New(),
			RoomID:   room.ID,
			Filename: cc.Filename,
			Artist:   cc.Artist,
			State:    models.CardDeck,
		})
	}
	return len(room.Cards), nil
}

// Remaining counts the undealt cards.
func Remaining(room *models.Room) int {
	return len(room.CardsIn(models.CardDeck))
}

// Deal hands perPlayer cards to every active player in seating order.
//
// With EqualHands set the deal is all-or-nothing: if the deck cannot cover every
// active player it deals nothing. Otherwise cards go round-robin until the deck runs out.
func Deal(room *models.Room, perPlayer int, rng *rand.Rand) DealResult {
	active := activeBySeat(room)
	available := shuffledDeck(room, rng)
	if perPlayer <= 0 || len(active) == 0 {
		return DealResult{Remaining: len(available)}
	}
	if room.EqualHands && len(available) < perPlayer*len(active) {
		return DealResult{Remaining: len(available)}
	}

	dealt := 0
	for round := 0; round < perPlayer; round++ {
		for _, p := range active {
			if dealt >= len(available) {
				return DealResult{Dealt: dealt, Remaining: 0}
			}
			give(available[dealt], p.ID)
			dealt++
		}
	}
	return DealResult{Dealt: dealt, Remaining: len(available) - dealt}
}

// DealToOne deals up to count cards to a single player without touching other hands.
func DealToOne(room *models.Room, playerID uuid.UUID, count int, rng *rand.Rand) DealResult {
	available := shuffledDeck(room, rng)
	n := count
	if n > len(available) {
		n = len(available)
	}
	if n < 0 {
		n = 0
	}
	for i := 0; i < n; i++ {
		give(available[i], playerID)
	}
	return DealResult{Dealt: n, Remaining: len(available) - n}
}

// DiscardTable moves every table card to the discard pile.
func DiscardTable(room *models.Room) {
	for _, c := range room.Cards {
		if c.State == models.CardTable {
			c.State = models.CardDiscard
			c.OwnerID = uuid.Nil
			c.DisplayOrder = 0
		}
	}
}

// ReturnToDeck puts a departing player's hand back into the deck.
func ReturnToDeck(room *models.Room, playerID uuid.UUID) int {
	n := 0
	for _, c := range room.Cards {
		if c.State == models.CardHand && c.OwnerID == playerID {
			c.State = models.CardDeck
			c.OwnerID = uuid.Nil
			n++
		}
	}
	return n
}

// PlayToTable moves a card from the player's hand to the table.
func PlayToTable(room *models.Room, playerID, cardID uuid.UUID) bool {
	c := room.Card(cardID)
	if c == nil || c.State != models.CardHand || c.OwnerID != playerID {
		return false
	}
	c.State = models.CardTable
	return true
}

// AssignDisplayOrder gives the table cards a uniformly random 1-based reveal order.
func AssignDisplayOrder(room *models.Room, rng *rand.Rand) []*models.Card {
	table := room.CardsIn(models.CardTable)
	shuffle(rng, len(table), func(i, j int) { table[i], table[j] = table[j], table[i] })
	for i, c := range table {
		c.DisplayOrder = i + 1
	}
	return table
}

func give(c *models.Card, playerID uuid.UUID) {
	c.State = models.CardHand
	c.OwnerID = playerID
}

func shuffledDeck(room *models.Room, rng *rand.Rand) []*models.Card {
	available := room.CardsIn(models.CardDeck)
	shuffle(rng, len(available), func(i, j int) { available[i], available[j] = available[j], available[i] })
	return available
}

// shuffle is a full Fisher-Yates permutation.
func shuffle(rng *rand.Rand, n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, rng.Intn(i+1))
	}
}

func activeBySeat(room *models.Room) []*models.Player {
	var out []*models.Player
	for _, p := range room.Players {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TurnOrder < out[j].TurnOrder })
	return out
}
