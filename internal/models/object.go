package models

import (
	"time"

	"github.com/google/uuid"
)

// ObjectType is the closed set of drawable object kinds. Fixed at creation.
type ObjectType string

const (
	TypeStickyNote ObjectType = "sticky_note"
	TypeRectangle  ObjectType = "rectangle"
	TypeEllipse    ObjectType = "ellipse"
	TypeFrame      ObjectType = "frame"
	TypeConnector  ObjectType = "connector"
	TypeText       ObjectType = "text"
	TypeLine       ObjectType = "line"
)

// WhiteboardObject is the unit of synchronization. Every accepted mutation
// (local or remote) increments Version by exactly 1 and stamps UpdatedBy/UpdatedAt.
type WhiteboardObject struct {
	ID         uuid.UUID      `json:"id"`
	BoardID    uuid.UUID      `json:"board_id"`
	ObjectType ObjectType     `json:"object_type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Rotation   float64        `json:"rotation"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedBy  uuid.UUID      `json:"updated_by"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Clone returns a deep copy. Properties gets its own map so the copy can be
// mutated without aliasing the original (history snapshots depend on this).
func (o *WhiteboardObject) Clone() *WhiteboardObject {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Properties != nil {
		cp.Properties = make(map[string]any, len(o.Properties))
		for k, v := range o.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

// ObjectPatch is a partial update. Nil pointer fields leave the corresponding
// scalar untouched; Properties is merged key-by-key (one level deep, existing
// keys not named here survive). UpdatedBy/UpdatedAt/Version ride along on
// remote patches so the receiver can run conflict resolution.
type ObjectPatch struct {
	X          *float64       `json:"x,omitempty"`
	Y          *float64       `json:"y,omitempty"`
	Width      *float64       `json:"width,omitempty"`
	Height     *float64       `json:"height,omitempty"`
	Rotation   *float64       `json:"rotation,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedBy  uuid.UUID      `json:"updated_by,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
	Version    int64          `json:"version,omitempty"`
}

// IsZero reports whether the patch carries no field changes at all.
func (p ObjectPatch) IsZero() bool {
	return p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil &&
		p.Rotation == nil && len(p.Properties) == 0
}

// ApplyTo overwrites the target's scalar fields for every non-nil pointer and
// shallow-merges Properties. It does not touch Version/UpdatedBy/UpdatedAt;
// callers stamp those according to whether the mutation is local or remote.
func (p ObjectPatch) ApplyTo(o *WhiteboardObject) {
	if p.X != nil {
		o.X = *p.X
	}
	if p.Y != nil {
		o.Y = *p.Y
	}
	if p.Width != nil {
		o.Width = *p.Width
	}
	if p.Height != nil {
		o.Height = *p.Height
	}
	if p.Rotation != nil {
		o.Rotation = *p.Rotation
	}
	if len(p.Properties) > 0 {
		if o.Properties == nil {
			o.Properties = make(map[string]any, len(p.Properties))
		}
		for k, v := range p.Properties {
			o.Properties[k] = v
		}
	}
}

// Float64Ptr is a convenience for building patches.
func Float64Ptr(v float64) *float64 {
	return &v
}
