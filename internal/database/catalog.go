// internal/database/catalog.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/storyteller/internal/models"
)

// Catalog returns the master card list in catalog order.
func (s *RoomStore) Catalog(ctx context.Context) ([]models.CatalogCard, error) {
	rows, err := s.pool.Query(ctx, `SELECT catalog_id, filename, artist FROM catalog ORDER BY catalog_id`)
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

// ArtistCounts lists every artist in the catalog with the number of cards they drew.
func (s *RoomStore) ArtistCounts(ctx context.Context) ([]models.ArtistCount, error) {
	rows, err := s.pool.Query(ctx, `SELECT artist, COUNT(*) FROM catalog GROUP BY artist ORDER BY artist`)
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
func (s *RoomStore) SeedCatalog(ctx context.Context, cards []models.CatalogCard) error {
	if len(cards) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range cards {
			batch.Queue(`
				INSERT INTO catalog (catalog_id, filename, artist) VALUES ($1, $2, $3)
				ON CONFLICT (catalog_id) DO UPDATE SET filename = EXCLUDED.filename, artist = EXCLUDED.artist`,
				c.CatalogID, c.Filename, c.Artist,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// InsertRoomActions appends a batch of action log records.
func InsertRoomActions(ctx context.Context, pool *pgxpool.Pool, recs []models.RoomAction) error {
	if len(recs) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range recs {
			payload, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload of action %d: %w", rec.ActionIndex, err)
			}
			batch.Queue(`
				INSERT INTO room_actions (room_id, load_id, action_index, player_id, action_type, action_payload, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7::double precision / 1000))`,
				rec.RoomID, uuidParam(rec.LoadID), rec.ActionIndex, uuidParam(rec.PlayerID), rec.ActionType, payload, rec.Timestamp,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
