// Package sqlite is a single-file room store for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store persists rooms, players and cards in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection: an in-memory database exists per connection, and SQLite serializes writers anyway
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("configure sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

const selectRoomQ = `
	SELECT room_id, name, phase, turn_player_id, prompt_text, hand_size,
	       equal_hands, win_score, round_limit, round_number
	FROM rooms
`

// LoadRoom reads a full room aggregate by ID.
func (s *Store) LoadRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return s.loadRoom(ctx, selectRoomQ+` WHERE room_id = ?`, id.String())
}

// LoadRoomByName reads a full room aggregate by its unique name.
func (s *Store) LoadRoomByName(ctx context.Context, name string) (*models.Room, error) {
	return s.loadRoom(ctx, selectRoomQ+` WHERE name = ?`, name)
}

func (s *Store) loadRoom(ctx context.Context, q string, arg interface{}) (*models.Room, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		r          models.Room
		id, phase  string
		turn       sql.NullString
		equalHands bool
	)
	err = tx.QueryRowContext(ctx, q, arg).Scan(
		&id, &r.Name, &phase, &turn, &r.PromptText, &r.HandSize,
		&equalHands, &r.WinScore, &r.RoundLimit, &r.RoundNumber,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("room id %q: %w", id, err)
	}
	r.Phase = models.Phase(phase)
	r.EqualHands = equalHands
	if r.TurnPlayerID, err = nullUUID(turn); err != nil {
		return nil, err
	}

	if r.Players, err = loadPlayers(ctx, tx, r.ID); err != nil {
		return nil, err
	}
	if r.Cards, err = loadCards(ctx, tx, r.ID); err != nil {
		return nil, err
	}
	return &r, tx.Commit()
}

func loadPlayers(ctx context.Context, tx *sql.Tx, roomID uuid.UUID) ([]*models.Player, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT player_id, name, session_token, lifecycle_state,
		       turn_order, turn_recency, score, current_guess
		FROM players
		WHERE room_id = ?
		ORDER BY turn_order`, roomID.String())
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		var (
			p         models.Player
			id, state string
			guess     sql.NullString
		)
		if err := rows.Scan(&id, &p.Name, &p.SessionToken, &state, &p.TurnOrder, &p.TurnRecency, &p.Score, &guess); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("player id %q: %w", id, err)
		}
		if p.CurrentGuess, err = nullUUID(guess); err != nil {
			return nil, err
		}
		p.RoomID = roomID
		p.State = models.LifecycleState(state)
		players = append(players, &p)
	}
	return players, rows.Err()
}

func loadCards(ctx context.Context, tx *sql.Tx, roomID uuid.UUID) ([]*models.Card, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT card_id, filename, artist, state, owning_player_id, display_order
		FROM cards
		WHERE room_id = ?
		ORDER BY filename, card_id`, roomID.String())
	if err != nil {
		return nil, fmt.Errorf("select cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		var (
			c         models.Card
			id, state string
			owner     sql.NullString
			order     sql.NullInt64
		)
		if err := rows.Scan(&id, &c.Filename, &c.Artist, &state, &owner, &order); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("card id %q: %w", id, err)
		}
		if c.OwnerID, err = nullUUID(owner); err != nil {
			return nil, err
		}
		c.RoomID = roomID
		c.State = models.CardState(state)
		c.DisplayOrder = int(order.Int64)
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

// SaveRoom writes the whole aggregate in one transaction.
func (s *Store) SaveRoom(ctx context.Context, room *models.Room) error {
	if err := s.saveRoom(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

func (s *Store) saveRoom(ctx context.Context, room *models.Room) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	roomID := room.ID.String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (room_id, name, phase, turn_player_id, prompt_text, hand_size,
		                   equal_hands, win_score, round_limit, round_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id) DO UPDATE SET
			phase = excluded.phase,
			turn_player_id = excluded.turn_player_id,
			prompt_text = excluded.prompt_text,
			hand_size = excluded.hand_size,
			equal_hands = excluded.equal_hands,
			win_score = excluded.win_score,
			round_limit = excluded.round_limit,
			round_number = excluded.round_number`,
		roomID, room.Name, string(room.Phase), nullString(room.TurnPlayerID), room.PromptText, room.HandSize,
		room.EqualHands, room.WinScore, room.RoundLimit, room.RoundNumber,
	)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear cards: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM players WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear players: %w", err)
	}

	insertPlayer, err := tx.PrepareContext(ctx, `
		INSERT INTO players (player_id, name, room_id, session_token, lifecycle_state,
		                     turn_order, turn_recency, score, current_guess)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare player insert: %w", err)
	}
	defer insertPlayer.Close()
	for _, p := range room.Players {
		if _, err := insertPlayer.ExecContext(ctx,
			p.ID.String(), p.Name, roomID, p.SessionToken, string(p.State),
			p.TurnOrder, p.TurnRecency, p.Score, nullString(p.CurrentGuess),
		); err != nil {
			return fmt.Errorf("insert player %s: %w", p.ID, err)
		}
	}

	insertCard, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (card_id, room_id, filename, artist, state, owning_player_id, display_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare card insert: %w", err)
	}
	defer insertCard.Close()
	for _, c := range room.Cards {
		order := sql.NullInt64{Int64: int64(c.DisplayOrder), Valid: c.DisplayOrder != 0}
		if _, err := insertCard.ExecContext(ctx,
			c.ID.String(), roomID, c.Filename, c.Artist, string(c.State), nullString(c.OwnerID), order,
		); err != nil {
			return fmt.Errorf("insert card %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteRoom removes a room; its players and cards go with it.
func (s *Store) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrRoomNotFound
	}
	return nil
}

// Catalog returns the master card list in catalog order.
func (s *Store) Catalog(ctx context.Context) ([]models.CatalogCard, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT catalog_id, filename, artist FROM catalog ORDER BY catalog_id`)
	if err != nil {
		return nil, fmt.Errorf("select catalog: %w", err)
	}
	defer rows.Close()

	var out []models.CatalogCard
	for rows.Next() {
		var c models.CatalogCard
		if err := rows.Scan(&c.CatalogID, &c.Filename, &c.Artist); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ArtistCounts lists every artist in the catalog with their card count.
func (s *Store) ArtistCounts(ctx context.Context) ([]models.ArtistCount, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT artist, COUNT(*) FROM catalog GROUP BY artist ORDER BY artist`)
	if err != nil {
		return nil, fmt.Errorf("select artists: %w", err)
	}
	defer rows.Close()

	var out []models.ArtistCount
	for rows.Next() {
		var a models.ArtistCount
		if err := rows.Scan(&a.Artist, &a.Count); err != nil {
			return nil, fmt.Errorf("scan artist: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SeedCatalog inserts or refreshes catalog rows.
func (s *Store) SeedCatalog(ctx context.Context, cards []models.CatalogCard) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, c := range cards {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog (catalog_id, filename, artist) VALUES (?, ?, ?)
			ON CONFLICT (catalog_id) DO UPDATE SET filename = excluded.filename, artist = excluded.artist`,
			c.CatalogID, c.Filename, c.Artist,
		); err != nil {
			return fmt.Errorf("seed catalog %d: %w", c.CatalogID, err)
		}
	}
	return tx.Commit()
}

func nullString(id uuid.UUID) sql.NullString {
	if id == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullUUID(v sql.NullString) (uuid.UUID, error) {
	if !v.Valid || v.String == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return uuid.Nil, fmt.Errorf("uuid %q: %w", v.String, err)
	}
	return id, nil
}
