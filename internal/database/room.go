// internal/database/room.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/storyteller/internal/models"
)

// RoomStore persists rooms, players and cards in Postgres.
type RoomStore struct {
	pool *pgxpool.Pool
}

// NewRoomStore wraps an open pool.
func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

// Ping checks the database answers.
func (s *RoomStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const selectRoomQ = `
	SELECT room_id, name, phase, turn_player_id, prompt_text, hand_size,
	       equal_hands, win_score, round_limit, round_number
	FROM rooms
`

// LoadRoom reads a full room aggregate by ID.
func (s *RoomStore) LoadRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return s.loadRoom(ctx, selectRoomQ+` WHERE room_id = $1`, id)
}

// LoadRoomByName reads a full room aggregate by its unique name.
func (s *RoomStore) LoadRoomByName(ctx context.Context, name string) (*models.Room, error) {
	return s.loadRoom(ctx, selectRoomQ+` WHERE name = $1`, name)
}

func (s *RoomStore) loadRoom(ctx context.Context, q string, arg interface{}) (*models.Room, error) {
	var room *models.Room
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var (
			r     models.Room
			phase string
			turn  pgtype.UUID
		)
		err := tx.QueryRow(ctx, q, arg).Scan(
			&r.ID, &r.Name, &phase, &turn, &r.PromptText, &r.HandSize,
			&r.EqualHands, &r.WinScore, &r.RoundLimit, &r.RoundNumber,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("select room: %w", err)
		}
		r.Phase = models.Phase(phase)
		r.TurnPlayerID = uuidVal(turn)

		if r.Players, err = loadPlayers(ctx, tx, r.ID); err != nil {
			return err
		}
		if r.Cards, err = loadCards(ctx, tx, r.ID); err != nil {
			return err
		}
		room = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func loadPlayers(ctx context.Context, tx pgx.Tx, roomID uuid.UUID) ([]*models.Player, error) {
	q := `
		SELECT player_id, name, room_id, session_token, lifecycle_state,
		       turn_order, turn_recency, score, current_guess
		FROM players
		WHERE room_id = $1
		ORDER BY turn_order
	`
	rows, err := tx.Query(ctx, q, roomID)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		var (
			p     models.Player
			state string
			guess pgtype.UUID
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.RoomID, &p.SessionToken, &state,
			&p.TurnOrder, &p.TurnRecency, &p.Score, &guess,
		); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		p.State = models.LifecycleState(state)
		p.CurrentGuess = uuidVal(guess)
		players = append(players, &p)
	}
	return players, rows.Err()
}

func loadCards(ctx context.Context, tx pgx.Tx, roomID uuid.UUID) ([]*models.Card, error) {
	q := `
		SELECT card_id, room_id, filename, artist, state, owning_player_id, display_order
		FROM cards
		WHERE room_id = $1
		ORDER BY filename, card_id
	`
	rows, err := tx.Query(ctx, q, roomID)
	if err != nil {
		return nil, fmt.Errorf("select cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		var (
			c     models.Card
			state string
			owner pgtype.UUID
			order pgtype.Int4
		)
		if err := rows.Scan(&c.ID, &c.RoomID, &c.Filename, &c.Artist, &state, &owner, &order); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		c.State = models.CardState(state)
		c.OwnerID = uuidVal(owner)
		c.DisplayOrder = int4Val(order)
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

// SaveRoom writes the whole aggregate in one transaction. Players and cards
// that are no longer part of the room are removed.
func (s *RoomStore) SaveRoom(ctx context.Context, room *models.Room) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsertRoom := `
			INSERT INTO rooms (room_id, name, phase, turn_player_id, prompt_text, hand_size,
			                   equal_hands, win_score, round_limit, round_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (room_id) DO UPDATE SET
				phase = EXCLUDED.phase,
				turn_player_id = EXCLUDED.turn_player_id,
				prompt_text = EXCLUDED.prompt_text,
				hand_size = EXCLUDED.hand_size,
				equal_hands = EXCLUDED.equal_hands,
				win_score = EXCLUDED.win_score,
				round_limit = EXCLUDED.round_limit,
				round_number = EXCLUDED.round_number
		`
		if _, err := tx.Exec(ctx, upsertRoom,
			room.ID, room.Name, string(room.Phase), uuidParam(room.TurnPlayerID), room.PromptText, room.HandSize,
			room.EqualHands, room.WinScore, room.RoundLimit, room.RoundNumber,
		); err != nil {
			return fmt.Errorf("upsert room: %w", err)
		}

		// cards reference players, so they go first
		if _, err := tx.Exec(ctx, `DELETE FROM cards WHERE room_id = $1`, room.ID); err != nil {
			return fmt.Errorf("clear cards: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM players WHERE room_id = $1`, room.ID); err != nil {
			return fmt.Errorf("clear players: %w", err)
		}

		batch := &pgx.Batch{}
		for _, p := range room.Players {
			batch.Queue(`
				INSERT INTO players (player_id, name, room_id, session_token, lifecycle_state,
				                     turn_order, turn_recency, score, current_guess)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				p.ID, p.Name, room.ID, p.SessionToken, string(p.State),
				p.TurnOrder, p.TurnRecency, p.Score, uuidParam(p.CurrentGuess),
			)
		}
		for _, c := range room.Cards {
			batch.Queue(`
				INSERT INTO cards (card_id, room_id, filename, artist, state, owning_player_id, display_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, room.ID, c.Filename, c.Artist, string(c.State), uuidParam(c.OwnerID), int4Param(c.DisplayOrder),
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert players and cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

// DeleteRoom removes a room; its players and cards go with it.
func (s *RoomStore) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE room_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRoomNotFound
	}
	return nil
}
