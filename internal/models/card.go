package models

import "github.com/google/uuid"

// CardState is where a card currently lives.
type CardState string

const (
	CardDeck    CardState = "deck"
	CardHand    CardState = "hand"
	CardTable   CardState = "table"
	CardDiscard CardState = "discard"
)

type Card struct {
	ID       uuid.UUID `json:"card_id"`
	RoomID   uuid.UUID `json:"room_id"`
	Filename string    `json:"filename"`
	Artist   string    `json:"artist"`
	State    CardState `json:"state"`

	// OwnerID is uuid.Nil while the card sits in the deck or the discard pile.
	OwnerID uuid.UUID `json:"owning_player_id"`

	// DisplayOrder is the 1-based reveal position during a guess round, 0 otherwise.
	DisplayOrder int `json:"display_order"`
}

// CatalogCard is a row of the master read-only card catalog.
type CatalogCard struct {
	CatalogID int    `json:"catalog_id"`
	Filename  string `json:"filename"`
	Artist    string `json:"artist"`
}

// ArtistCount is one entry of the get_artists listing.
type ArtistCount struct {
	Artist string `json:"artist"`
	Count  int    `json:"count"`
}
