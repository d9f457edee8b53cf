package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ObjectRepository is the durable store seam. The sync core calls it
// fire-and-forget: failures are logged, never retried here, and never roll
// back the optimistic in-memory state.
type ObjectRepository interface {
	List(ctx context.Context, boardID uuid.UUID) ([]*models.WhiteboardObject, error)
	Insert(ctx context.Context, obj *models.WhiteboardObject) error
	// Update merges a partial into the stored row and returns the new version.
	Update(ctx context.Context, id uuid.UUID, patch models.ObjectPatch) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteMany(ctx context.Context, ids []uuid.UUID) error
	// BatchUpdate persists many patches in one call (multi-object drag
	// release), bounding backend load under concurrent heavy use.
	BatchUpdate(ctx context.Context, patches map[uuid.UUID]models.ObjectPatch) error
}
