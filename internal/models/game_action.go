package models

import "github.com/google/uuid"

// RoomAction captures one applied player action for the action log.
// ActionIndex counts from 1 within one load of the room, identified by LoadID.
type RoomAction struct {
	RoomID      uuid.UUID              `json:"room_id"`
	LoadID      uuid.UUID              `json:"load_id"`
	ActionIndex int                    `json:"action_index"`
	PlayerID    uuid.UUID              `json:"player_id"`
	ActionType  string                 `json:"action_type"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   int64                  `json:"timestamp"`
}
