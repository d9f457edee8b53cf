package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/models"
	"github.com/prudhvinik1/boardsync/internal/repositories"
	"github.com/prudhvinik1/boardsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus records published events in order.
type fakeBus struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
}

func (b *fakeBus) Publish(_ context.Context, ev *models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	cp := *ev
	b.events = append(b.events, &cp)
	return nil
}

func (b *fakeBus) published() []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*models.Event(nil), b.events...)
}

func (b *fakeBus) ofType(t models.EventType) []*models.Event {
	var out []*models.Event
	for _, ev := range b.published() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeRepo records repository calls; optionally fails everything.
type fakeRepo struct {
	mu      sync.Mutex
	objects []*models.WhiteboardObject
	calls   []string
	err     error
}

func (r *fakeRepo) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.err
}

func (r *fakeRepo) List(context.Context, uuid.UUID) ([]*models.WhiteboardObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.objects, nil
}

func (r *fakeRepo) Insert(_ context.Context, _ *models.WhiteboardObject) error {
	return r.record("insert")
}

func (r *fakeRepo) Update(_ context.Context, _ uuid.UUID, _ models.ObjectPatch) (int64, error) {
	return 0, r.record("update")
}

func (r *fakeRepo) Delete(context.Context, uuid.UUID) error {
	return r.record("delete")
}

func (r *fakeRepo) DeleteMany(context.Context, []uuid.UUID) error {
	return r.record("delete_many")
}

func (r *fakeRepo) BatchUpdate(context.Context, map[uuid.UUID]models.ObjectPatch) error {
	return r.record("batch_update")
}

func (r *fakeRepo) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var _ repositories.ObjectRepository = (*fakeRepo)(nil)

type fixture struct {
	orch  *Orchestrator
	store *store.Store
	bus   *fakeBus
	repo  *fakeRepo
	user  uuid.UUID
	board uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	user := uuid.New()
	board := uuid.New()
	st := store.New(user, 0)
	bus := &fakeBus{}
	repo := &fakeRepo{}
	orch := New(Config{
		BoardID:      board,
		UserID:       user,
		Store:        st,
		Repo:         repo,
		Bus:          bus,
		MoveThrottle: 5 * time.Millisecond,
		TextThrottle: 5 * time.Millisecond,
	})
	t.Cleanup(func() {
		orch.Close(context.Background())
	})
	return &fixture{orch: orch, store: st, bus: bus, repo: repo, user: user, board: board}
}

// waitFor polls until cond holds or the deadline passes. The persistence path
// is intentionally asynchronous, so assertions on it need a little patience.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, cond(), "condition never held")
}

func sticky(board uuid.UUID) *models.WhiteboardObject {
	return &models.WhiteboardObject{
		BoardID:    board,
		ObjectType: models.TypeStickyNote,
		X:          10, Y: 10, Width: 200, Height: 150,
		Properties: map[string]any{"text": "hi"},
	}
}

func TestOrchestrator_CreateObject_BroadcastsAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	committed := f.orch.CreateObject(ctx, sticky(f.board))
	require.NotNil(t, committed)
	assert.Equal(t, int64(1), committed.Version)

	events := f.bus.ofType(models.EventObjectCreate)
	require.Len(t, events, 1)
	assert.Equal(t, f.user, events[0].SenderID)
	assert.Equal(t, committed.ID, events[0].Object.ID)

	waitFor(t, func() bool { return len(f.repo.callLog()) == 1 })
	assert.Equal(t, []string{"insert"}, f.repo.callLog())
}

func TestOrchestrator_UpdateObject_BroadcastsDeltaNotWholeObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	committed := f.orch.CreateObject(ctx, sticky(f.board))

	f.orch.UpdateObject(ctx, committed.ID, models.ObjectPatch{X: models.Float64Ptr(42)})

	events := f.bus.ofType(models.EventObjectUpdate)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Patch)
	assert.Nil(t, events[0].Object, "update carries the delta, not the object")
	assert.Equal(t, 42.0, *events[0].Patch.X)
	assert.Equal(t, committed.Version+1, events[0].Patch.Version)
}

func TestOrchestrator_SelfEchoIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	committed := f.orch.CreateObject(ctx, sticky(f.board))
	rev := f.store.Rev()

	// The event we just published comes back around.
	echo := f.bus.ofType(models.EventObjectCreate)[0]
	f.orch.HandleEvent(echo)

	assert.Equal(t, rev, f.store.Rev(), "self-echo must not touch the store")
	assert.Equal(t, committed.Version, f.store.Get(committed.ID).Version)
}

func TestOrchestrator_RemoteEventsBypassHistory(t *testing.T) {
	f := newFixture(t)
	peer := uuid.New()
	obj := sticky(f.board)
	obj.ID = uuid.New()
	obj.Version = 1
	obj.UpdatedAt = time.Now()
	obj.UpdatedBy = peer

	undoBefore, redoBefore := f.store.HistoryLens()

	f.orch.HandleEvent(&models.Event{
		Type:     models.EventObjectCreate,
		BoardID:  f.board,
		SenderID: peer,
		Object:   obj,
	})
	require.NotNil(t, f.store.Get(obj.ID), "remote create applies")

	undoAfter, redoAfter := f.store.HistoryLens()
	assert.Equal(t, undoBefore, undoAfter, "remote mutation must never be undoable")
	assert.Equal(t, redoBefore, redoAfter)
	assert.False(t, f.orch.Undo(context.Background()))
}

func TestOrchestrator_RemoteEventsAreNeverRebroadcast(t *testing.T) {
	f := newFixture(t)
	peer := uuid.New()
	obj := sticky(f.board)
	obj.ID = uuid.New()
	obj.Version = 1
	obj.UpdatedAt = time.Now()

	f.orch.HandleEvent(&models.Event{
		Type:     models.EventObjectCreate,
		BoardID:  f.board,
		SenderID: peer,
		Object:   obj,
	})

	assert.Empty(t, f.bus.published(), "applying a remote event must not publish")
	assert.Empty(t, f.repo.callLog(), "applying a remote event must not persist")
}

func TestOrchestrator_RemoteUpdate_ResolverRejectsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	committed := f.orch.CreateObject(ctx, sticky(f.board))

	f.orch.HandleEvent(&models.Event{
		Type:     models.EventObjectUpdate,
		BoardID:  f.board,
		SenderID: uuid.New(),
		ObjectID: committed.ID,
		Patch: &models.ObjectPatch{
			X:         models.Float64Ptr(999),
			Version:   committed.Version,
			UpdatedAt: committed.UpdatedAt.Add(-time.Minute),
		},
	})

	assert.Equal(t, committed.X, f.store.Get(committed.ID).X, "stale remote edit loses")
}

func TestOrchestrator_RemoteApplyCallback(t *testing.T) {
	user := uuid.New()
	board := uuid.New()
	var applied []*models.Event
	var mu sync.Mutex
	orch := New(Config{
		BoardID: board,
		UserID:  user,
		Store:   store.New(user, 0),
		Repo:    &fakeRepo{},
		Bus:     &fakeBus{},
		OnRemoteApply: func(ev *models.Event) {
			mu.Lock()
			applied = append(applied, ev)
			mu.Unlock()
		},
	})
	defer orch.Close(context.Background())

	peer := uuid.New()
	obj := sticky(board)
	obj.ID = uuid.New()
	obj.Version = 1
	obj.UpdatedAt = time.Now()

	orch.HandleEvent(&models.Event{Type: models.EventObjectCreate, BoardID: board, SenderID: peer, Object: obj})
	orch.HandleEvent(&models.Event{Type: models.EventCursorUpdate, BoardID: board, SenderID: peer, Cursor: &models.CursorPosition{X: 1, Y: 2}})
	// A losing duplicate must not reach the callback.
	orch.HandleEvent(&models.Event{Type: models.EventObjectCreate, BoardID: board, SenderID: peer, Object: obj})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, applied, 2)
	assert.Equal(t, models.EventObjectCreate, applied[0].Type)
	assert.Equal(t, models.EventCursorUpdate, applied[1].Type)
}

func TestOrchestrator_DeleteSelected_OneMessageOneRepositoryCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.orch.CreateObject(ctx, sticky(f.board))
	b := f.orch.CreateObject(ctx, sticky(f.board))
	f.orch.SelectObject(a.ID)
	f.orch.SelectObject(b.ID)

	require.Equal(t, 2, f.orch.DeleteSelected(ctx))

	deletes := f.bus.ofType(models.EventObjectDelete)
	require.Len(t, deletes, 1, "multi-delete is one network message")
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, deletes[0].ObjectIDs)

	waitFor(t, func() bool {
		for _, call := range f.repo.callLog() {
			if call == "delete_many" {
				return true
			}
		}
		return false
	})

	// One undo restores both.
	require.True(t, f.orch.Undo(ctx))
	assert.NotNil(t, f.store.Get(a.ID))
	assert.NotNil(t, f.store.Get(b.ID))
}

func TestOrchestrator_Drag_CoalescesFramesAndPersistsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obj := f.orch.CreateObject(ctx, sticky(f.board))

	f.orch.BeginDrag()
	for i := 1; i <= 30; i++ {
		f.orch.DragFrame(map[uuid.UUID][2]float64{obj.ID: {float64(i * 10), float64(i * 5)}})
	}
	f.orch.EndDrag()

	// The final position always reaches the wire; intermediate frames are
	// heavily coalesced by the trailing-edge throttle.
	waitFor(t, func() bool {
		batches := f.bus.ofType(models.EventObjectMoveBatch)
		if len(batches) == 0 {
			return false
		}
		last := batches[len(batches)-1]
		return last.Moves[0].X == 300
	})
	batches := f.bus.ofType(models.EventObjectMoveBatch)
	assert.Less(t, len(batches), 30, "drag frames must not broadcast 1:1")

	waitFor(t, func() bool {
		count := 0
		for _, call := range f.repo.callLog() {
			if call == "batch_update" {
				count++
			}
		}
		return count == 1
	})

	// The whole drag is one undo step back to the origin.
	require.True(t, f.orch.Undo(ctx))
	assert.Equal(t, obj.X, f.store.Get(obj.ID).X)
}

func TestOrchestrator_CursorThrottled(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 50; i++ {
		f.orch.MoveCursor(float64(i), float64(i))
	}

	waitFor(t, func() bool { return len(f.bus.ofType(models.EventCursorUpdate)) > 0 })
	cursors := f.bus.ofType(models.EventCursorUpdate)
	assert.Less(t, len(cursors), 50)
	last := cursors[len(cursors)-1]
	assert.Equal(t, 49.0, last.Cursor.X, "trailing edge keeps the last position")
}

func TestOrchestrator_UpdateText_CoalescesKeystrokes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obj := f.orch.CreateObject(ctx, sticky(f.board))

	text := ""
	for _, r := range "hello world" {
		text += string(r)
		f.orch.UpdateText(ctx, obj.ID, text)
	}

	// Local state is per-keystroke optimistic.
	assert.Equal(t, "hello world", f.store.Get(obj.ID).Properties["text"])

	waitFor(t, func() bool {
		updates := f.bus.ofType(models.EventObjectUpdate)
		if len(updates) == 0 {
			return false
		}
		last := updates[len(updates)-1]
		return last.Patch != nil && last.Patch.Properties["text"] == "hello world"
	})
	assert.Less(t, len(f.bus.ofType(models.EventObjectUpdate)), 11, "keystrokes must not broadcast 1:1")
}

func TestOrchestrator_Undo_RebroadcastsRestoredState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obj := f.orch.CreateObject(ctx, sticky(f.board))
	f.orch.UpdateObject(ctx, obj.ID, models.ObjectPatch{X: models.Float64Ptr(500)})

	require.True(t, f.orch.Undo(ctx))

	// Locally: exact restore.
	assert.Equal(t, obj.X, f.store.Get(obj.ID).X)
	assert.Equal(t, obj.Version, f.store.Get(obj.ID).Version)

	// On the wire: the restored content under a pair that beats the
	// displaced state at every peer.
	creates := f.bus.ofType(models.EventObjectCreate)
	require.Len(t, creates, 2) // the original create + the undo restore
	restore := creates[1]
	assert.Equal(t, obj.X, restore.Object.X)
	assert.Greater(t, restore.Object.Version, obj.Version)
}

func TestOrchestrator_TransportFailuresAreSwallowed(t *testing.T) {
	user := uuid.New()
	board := uuid.New()
	st := store.New(user, 0)
	bus := &fakeBus{err: errors.New("redis down")}
	repo := &fakeRepo{err: errors.New("postgres down")}
	orch := New(Config{BoardID: board, UserID: user, Store: st, Repo: repo, Bus: bus})
	defer orch.Close(context.Background())

	committed := orch.CreateObject(context.Background(), sticky(board))

	// The optimistic local mutation stands even though both the broadcast
	// and the durable write failed.
	require.NotNil(t, st.Get(committed.ID))
	waitFor(t, func() bool { return len(repo.callLog()) == 1 })
	assert.NotNil(t, st.Get(committed.ID), "persist failure never rolls back")
}

func TestOrchestrator_Load_SeedsStore(t *testing.T) {
	user := uuid.New()
	board := uuid.New()
	seed := sticky(board)
	seed.ID = uuid.New()
	seed.Version = 7
	repo := &fakeRepo{objects: []*models.WhiteboardObject{seed}}
	st := store.New(user, 0)
	orch := New(Config{BoardID: board, UserID: user, Store: st, Repo: repo, Bus: &fakeBus{}})
	defer orch.Close(context.Background())

	require.NoError(t, orch.Load(context.Background()))
	got := st.Get(seed.ID)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.Version)
}

func TestOrchestrator_Start_ConsumesEventStream(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan *models.Event, 1)
	f.orch.Start(ctx, events)

	obj := sticky(f.board)
	obj.ID = uuid.New()
	obj.Version = 1
	obj.UpdatedAt = time.Now()
	events <- &models.Event{Type: models.EventObjectCreate, BoardID: f.board, SenderID: uuid.New(), Object: obj}

	waitFor(t, func() bool { return f.store.Get(obj.ID) != nil })
}
