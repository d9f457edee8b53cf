// Package store holds the authoritative in-process view of one board for one
// client: the single source of truth for "what does this client currently
// believe the board looks like".
//
// Mutations come in two flavors. The plain methods (AddObject, UpdateObject,
// DeleteObject, ...) apply state changes that originated remotely, or that
// must otherwise not be undoable; they never touch history. The *Sync variants
// have identical merge semantics but additionally record an inverse snapshot
// so the mutation can be undone. Remote events enter through the ApplyRemote*
// methods, which consult the conflict resolver under the store lock so the
// check-then-apply step is atomic per object.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/history"
	"github.com/prudhvinik1/boardsync/internal/models"
	"github.com/prudhvinik1/boardsync/internal/resolver"
)

// Store owns the id → object map for the currently open board. All access is
// serialized through its mutex; every exported method is atomic with respect
// to observers.
type Store struct {
	mu       sync.Mutex
	objects  map[uuid.UUID]*models.WhiteboardObject
	selected map[uuid.UUID]struct{}
	log      *history.Log

	// rev increments only when board state actually changes. A no-op
	// (unknown id, empty batch) leaves it untouched, which is what change
	// detection keys off instead of collection identity.
	rev uint64

	userID uuid.UUID
	now    func() time.Time
}

// New returns an empty store for the given local user. historyDepth <= 0
// selects the default cap.
func New(userID uuid.UUID, historyDepth int) *Store {
	return &Store{
		objects:  make(map[uuid.UUID]*models.WhiteboardObject),
		selected: make(map[uuid.UUID]struct{}),
		log:      history.NewLog(historyDepth),
		userID:   userID,
		now:      time.Now,
	}
}

// Rev returns the current revision counter.
func (s *Store) Rev() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Get returns a deep copy of the object, or nil if absent.
func (s *Store) Get(id uuid.UUID) *models.WhiteboardObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[id].Clone()
}

// Len returns the number of objects currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Objects returns deep copies of all objects. Order is unspecified.
func (s *Store) Objects() []*models.WhiteboardObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.WhiteboardObject, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o.Clone())
	}
	return out
}

// SetObjects bulk-replaces board state. Used on initial load and board switch;
// clears selection and history.
func (s *Store) SetObjects(objs []*models.WhiteboardObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[uuid.UUID]*models.WhiteboardObject, len(objs))
	for _, o := range objs {
		s.objects[o.ID] = o.Clone()
	}
	s.selected = make(map[uuid.UUID]struct{})
	s.log.Clear()
	s.rev++
}

// ---- Mutations that bypass history ----

// AddObject inserts or replaces an object without recording history.
func (s *Store) AddObject(obj *models.WhiteboardObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID] = obj.Clone()
	s.rev++
}

// UpdateObject merges a patch into an existing object without recording
// history: non-nil geometry pointers overwrite, Properties merges per key one
// level deep. Unknown id is a no-op (the object may legitimately have been
// deleted remotely already) and does not bump the revision.
func (s *Store) UpdateObject(id uuid.UUID, patch models.ObjectPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, patch)
}

func (s *Store) updateLocked(id uuid.UUID, patch models.ObjectPatch) bool {
	obj, ok := s.objects[id]
	if !ok {
		return false
	}
	patch.ApplyTo(obj)
	if patch.Version != 0 {
		obj.Version = patch.Version
	}
	if !patch.UpdatedAt.IsZero() {
		obj.UpdatedAt = patch.UpdatedAt
	}
	if patch.UpdatedBy != uuid.Nil {
		obj.UpdatedBy = patch.UpdatedBy
	}
	s.rev++
	return true
}

// DeleteObject removes an object without recording history. Unknown id is a
// no-op and does not bump the revision.
func (s *Store) DeleteObject(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id uuid.UUID) bool {
	if _, ok := s.objects[id]; !ok {
		return false
	}
	delete(s.objects, id)
	delete(s.selected, id)
	s.rev++
	return true
}

// BatchUpdateObjects applies many patches in one pass under a single lock
// hold. Unknown ids are skipped. An empty list is a no-op with the revision
// unchanged.
func (s *Store) BatchUpdateObjects(patches map[uuid.UUID]models.ObjectPatch) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := 0
	for id, patch := range patches {
		if s.updateLocked(id, patch) {
			applied++
		}
	}
	return applied
}

// ---- Local mutations that record history ----

// AddObjectSync inserts a locally created object, stamping authorship and
// version 1, and records an inverse (delete) in history. Returns a copy of the
// stored object as committed.
func (s *Store) AddObjectSync(obj *models.WhiteboardObject) *models.WhiteboardObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := obj.Clone()
	now := s.now()
	stored.Version = 1
	stored.UpdatedBy = s.userID
	stored.UpdatedAt = now
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	s.objects[stored.ID] = stored
	s.rev++
	s.log.Record("create", history.Item{ObjectID: stored.ID, Before: nil, After: stored.Clone()})
	return stored.Clone()
}

// UpdateObjectSync merges a patch locally, stamping authorship and bumping the
// version by 1, and records the exact prior field values in history. Returns
// the committed copy, or nil when the id is unknown (no-op).
func (s *Store) UpdateObjectSync(id uuid.UUID, patch models.ObjectPatch) *models.WhiteboardObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil
	}
	before := obj.Clone()
	patch.ApplyTo(obj)
	obj.Version++
	obj.UpdatedBy = s.userID
	obj.UpdatedAt = s.now()
	s.rev++
	s.log.Record("update", history.Item{ObjectID: id, Before: before, After: obj.Clone()})
	return obj.Clone()
}

// DeleteObjectSync removes an object locally and records its full prior state
// so undo can recreate it. Returns the deleted copy, or nil on unknown id.
func (s *Store) DeleteObjectSync(id uuid.UUID) *models.WhiteboardObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil
	}
	before := obj.Clone()
	delete(s.objects, id)
	delete(s.selected, id)
	s.rev++
	s.log.Record("delete", history.Item{ObjectID: id, Before: before, After: nil})
	return before
}

// DeleteSelectedSync removes every selected object as one history entry: a
// single undo restores the whole selection. Returns the deleted copies.
func (s *Store) DeleteSelectedSync() []*models.WhiteboardObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selected) == 0 {
		return nil
	}
	wasOpen := s.log.InBatch()
	if !wasOpen {
		s.log.Begin("batch")
	}
	deleted := make([]*models.WhiteboardObject, 0, len(s.selected))
	for id := range s.selected {
		obj, ok := s.objects[id]
		if !ok {
			continue
		}
		before := obj.Clone()
		delete(s.objects, id)
		s.rev++
		s.log.Record("delete", history.Item{ObjectID: id, Before: before, After: nil})
		deleted = append(deleted, before)
	}
	s.selected = make(map[uuid.UUID]struct{})
	if !wasOpen {
		s.log.Commit()
	}
	return deleted
}

// BatchUpdateObjectsSync applies many local patches as one history entry (the
// release of a multi-object drag). Unknown ids are skipped. Returns committed
// copies of the objects that changed.
func (s *Store) BatchUpdateObjectsSync(label string, patches map[uuid.UUID]models.ObjectPatch) []*models.WhiteboardObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(patches) == 0 {
		return nil
	}
	wasOpen := s.log.InBatch()
	if !wasOpen {
		s.log.Begin(label)
	}
	updated := make([]*models.WhiteboardObject, 0, len(patches))
	now := s.now()
	for id, patch := range patches {
		obj, ok := s.objects[id]
		if !ok {
			continue
		}
		before := obj.Clone()
		patch.ApplyTo(obj)
		obj.Version++
		obj.UpdatedBy = s.userID
		obj.UpdatedAt = now
		s.rev++
		s.log.Record(label, history.Item{ObjectID: id, Before: before, After: obj.Clone()})
		updated = append(updated, obj.Clone())
	}
	if !wasOpen {
		s.log.Commit()
	}
	return updated
}

// ---- Remote application (resolver-gated, bypasses history) ----

// ApplyRemoteUpsert inserts or replaces an object from a remote create/full
// update. When a local copy exists, the resolver decides under the lock whether
// the remote pair wins; a losing or duplicate delivery is dropped.
func (s *Store) ApplyRemoteUpsert(obj *models.WhiteboardObject) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if local, ok := s.objects[obj.ID]; ok {
		if !resolver.RemoteWins(local.Version, local.UpdatedAt, obj.Version, obj.UpdatedAt) {
			return false
		}
	}
	s.objects[obj.ID] = obj.Clone()
	s.rev++
	return true
}

// ApplyRemotePatch merges a remote partial update if its (version, updatedAt)
// pair beats the local copy. Unknown id is a no-op: the object was deleted
// locally and the delete will win or lose elsewhere.
func (s *Store) ApplyRemotePatch(id uuid.UUID, patch models.ObjectPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	local, ok := s.objects[id]
	if !ok {
		return false
	}
	if !resolver.RemoteWins(local.Version, local.UpdatedAt, patch.Version, patch.UpdatedAt) {
		return false
	}
	return s.updateLocked(id, patch)
}

// ApplyRemoteDelete removes an object if the delete's (version, updatedAt)
// pair beats the local copy. Unknown id is a no-op.
func (s *Store) ApplyRemoteDelete(id uuid.UUID, version int64, updatedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	local, ok := s.objects[id]
	if !ok {
		return false
	}
	if !resolver.RemoteWins(local.Version, local.UpdatedAt, version, updatedAt) {
		return false
	}
	return s.deleteLocked(id)
}

// ---- Selection (local-only, never synchronized or historied) ----

// SelectObject marks an object selected. Unknown ids are ignored.
func (s *Store) SelectObject(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; ok {
		s.selected[id] = struct{}{}
	}
}

// DeselectAll clears the selection.
func (s *Store) DeselectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[uuid.UUID]struct{})
}

// Selected returns the selected ids. Order is unspecified.
func (s *Store) Selected() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	return out
}

// ---- History surface ----

// BeginBatch opens a history bracket: every *Sync mutation until CommitBatch
// folds into one undoable entry.
func (s *Store) BeginBatch(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Begin(label)
}

// CommitBatch closes the open bracket.
func (s *Store) CommitBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Commit()
}

// Undo reverts the most recent local entry atomically, applying each item's
// prior state without recording history (no recursion), and makes the
// entry redoable. Returns the items reverted so the caller can broadcast and
// persist the restored states; nil on an empty stack.
func (s *Store) Undo() []history.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.log.PopUndo()
	if !ok {
		return nil
	}
	// Reverse order: within a batch, later mutations are unwound first.
	for i := len(entry.Items) - 1; i >= 0; i-- {
		s.applyItemState(entry.Items[i].ObjectID, entry.Items[i].Before)
	}
	return entry.Items
}

// Redo reapplies the most recently undone entry atomically and makes it
// undoable again. Returns the items reapplied; nil on an empty stack.
func (s *Store) Redo() []history.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.log.PopRedo()
	if !ok {
		return nil
	}
	for _, item := range entry.Items {
		s.applyItemState(item.ObjectID, item.After)
	}
	return entry.Items
}

// applyItemState restores one side of a history item: nil means the object
// should not exist.
func (s *Store) applyItemState(id uuid.UUID, state *models.WhiteboardObject) {
	if state == nil {
		s.deleteLocked(id)
		return
	}
	s.objects[id] = state.Clone()
	s.rev++
}

// ClearHistory resets both stacks. Called on board switch.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Clear()
}

// CanUndo reports whether an undoable entry exists.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.UndoLen() > 0
}

// CanRedo reports whether a redoable entry exists.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.RedoLen() > 0
}

// HistoryLens returns the undo and redo stack sizes. Exposed for tests and
// debug surfaces.
func (s *Store) HistoryLens() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.UndoLen(), s.log.RedoLen()
}
