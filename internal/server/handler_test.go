package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	objects []*models.WhiteboardObject
	err     error
}

func (r *stubRepo) List(context.Context, uuid.UUID) ([]*models.WhiteboardObject, error) {
	return r.objects, r.err
}
func (r *stubRepo) Insert(context.Context, *models.WhiteboardObject) error { return nil }
func (r *stubRepo) Update(context.Context, uuid.UUID, models.ObjectPatch) (int64, error) {
	return 0, nil
}
func (r *stubRepo) Delete(context.Context, uuid.UUID) error      { return nil }
func (r *stubRepo) DeleteMany(context.Context, []uuid.UUID) error { return nil }
func (r *stubRepo) BatchUpdate(context.Context, map[uuid.UUID]models.ObjectPatch) error {
	return nil
}

func newTestRouter(repo *stubRepo) *chi.Mux {
	h := &Handler{repo: repo}
	r := chi.NewRouter()
	r.Group(h.Routes)
	return r
}

func TestHandler_ListObjects(t *testing.T) {
	boardID := uuid.New()
	obj := &models.WhiteboardObject{
		ID:         uuid.New(),
		BoardID:    boardID,
		ObjectType: models.TypeStickyNote,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
	router := newTestRouter(&stubRepo{objects: []*models.WhiteboardObject{obj}})

	req := httptest.NewRequest("GET", "/boards/"+boardID.String()+"/objects", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var got []*models.WhiteboardObject
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, obj.ID, got[0].ID)
}

func TestHandler_ListObjects_InvalidBoardID(t *testing.T) {
	router := newTestRouter(&stubRepo{})

	req := httptest.NewRequest("GET", "/boards/not-a-uuid/objects", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}
