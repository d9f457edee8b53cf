package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags a broadcast message.
type EventType string

const (
	EventObjectCreate    EventType = "object_create"
	EventObjectUpdate    EventType = "object_update"
	EventObjectDelete    EventType = "object_delete"
	EventObjectMoveBatch EventType = "object_move_batch"
	EventCursorUpdate    EventType = "cursor_update"
)

// ObjectMove is one element of a move-batch: an absolute position for one
// object, not a delta, so a dropped prior message can never corrupt state.
type ObjectMove struct {
	ObjectID  uuid.UUID `json:"object_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// CursorPosition is an absolute cursor location for one user.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is the wire record exchanged over the broadcast channels. SenderID is
// compared against the local user id on receipt to drop self-echo. Exactly one
// payload field is populated depending on Type.
type Event struct {
	Type      EventType         `json:"type"`
	BoardID   uuid.UUID         `json:"board_id"`
	SenderID  uuid.UUID         `json:"sender_id"`
	Object    *WhiteboardObject `json:"object,omitempty"`
	ObjectID  uuid.UUID         `json:"object_id,omitempty"`
	Patch     *ObjectPatch      `json:"patch,omitempty"`
	ObjectIDs []uuid.UUID       `json:"object_ids,omitempty"`
	// Version/UpdatedAt accompany deletes so receivers can resolve them
	// against a newer local copy.
	Version   int64           `json:"version,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
	Moves     []ObjectMove    `json:"moves,omitempty"`
	Cursor    *CursorPosition `json:"cursor,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}
