// Package syncer wires the object store, history, broadcast channel, presence
// tracker and durable repository into the two pipelines of the sync core:
//
//	local:  gesture → store mutation (history recorded) → throttled
//	        broadcast of the delta → fire-and-forget durable write
//	remote: broadcast event → self-echo filter → conflict resolution →
//	        store mutation (no history)
//
// The two paths never interfere: remote mutations are never undoable and never
// re-broadcast, and a failed durable write never rolls back the optimistic
// local state.
package syncer

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/models"
	"github.com/prudhvinik1/boardsync/internal/presence"
	"github.com/prudhvinik1/boardsync/internal/repositories"
	"github.com/prudhvinik1/boardsync/internal/store"
	"github.com/prudhvinik1/boardsync/internal/throttle"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMoveThrottle paces move/resize/cursor broadcasts to roughly one
	// per rendered frame.
	DefaultMoveThrottle = 16 * time.Millisecond
	// DefaultTextThrottle paces free-text broadcasts: loose enough to avoid
	// per-keystroke flooding, tight enough to feel live.
	DefaultTextThrottle = 50 * time.Millisecond

	persistTimeout = 10 * time.Second

	cursorKey = "cursor"
	movesKey  = "moves"
)

// Broadcaster is the outbound half of the broadcast channel.
type Broadcaster interface {
	Publish(ctx context.Context, ev *models.Event) error
}

// Config assembles an Orchestrator. Store, Repo and Bus are required; Presence
// may be nil (headless callers such as the AI agent skip presence).
type Config struct {
	BoardID      uuid.UUID
	UserID       uuid.UUID
	Store        *store.Store
	Repo         repositories.ObjectRepository
	Bus          Broadcaster
	Presence     *presence.Tracker
	MoveThrottle time.Duration
	TextThrottle time.Duration
	// OnRemoteApply is invoked after a remote event has been applied (or for
	// cursor updates, received). The rendering layer hangs off this.
	OnRemoteApply func(*models.Event)
}

// Orchestrator runs the sync pipelines for one (board, user) pair.
type Orchestrator struct {
	boardID  uuid.UUID
	userID   uuid.UUID
	store    *store.Store
	repo     repositories.ObjectRepository
	bus      Broadcaster
	presence *presence.Tracker
	onRemote func(*models.Event)

	moveThrottle *throttle.Throttle
	textThrottle *throttle.Throttle

	// dragged accumulates the ids touched by the current drag gesture so
	// EndDrag can persist exactly those in one call.
	dragged map[uuid.UUID]struct{}

	writes  chan func(context.Context)
	done    chan struct{}
	runDone chan struct{}
}

// New builds an orchestrator. Call Load before issuing mutations and Close
// when leaving the board.
func New(cfg Config) *Orchestrator {
	if cfg.MoveThrottle <= 0 {
		cfg.MoveThrottle = DefaultMoveThrottle
	}
	if cfg.TextThrottle <= 0 {
		cfg.TextThrottle = DefaultTextThrottle
	}
	o := &Orchestrator{
		boardID:  cfg.BoardID,
		userID:   cfg.UserID,
		store:    cfg.Store,
		repo:     cfg.Repo,
		bus:      cfg.Bus,
		presence: cfg.Presence,
		onRemote: cfg.OnRemoteApply,
		writes:   make(chan func(context.Context), 256),
		done:     make(chan struct{}),
	}
	o.moveThrottle = throttle.New(cfg.MoveThrottle, o.emitThrottled)
	o.textThrottle = throttle.New(cfg.TextThrottle, o.emitThrottled)
	go o.writeLoop()
	return o
}

// Load seeds the store from the repository and joins presence, concurrently.
// Replaces any previous board state and clears history.
func (o *Orchestrator) Load(ctx context.Context) error {
	var objects []*models.WhiteboardObject
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		objects, err = o.repo.List(gctx, o.boardID)
		return err
	})
	if o.presence != nil {
		g.Go(func() error {
			return o.presence.Join(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	o.store.SetObjects(objects)
	return nil
}

// Start consumes remote events until the channel closes or ctx is canceled.
func (o *Orchestrator) Start(ctx context.Context, events <-chan *models.Event) {
	o.runDone = make(chan struct{})
	go func() {
		defer close(o.runDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				o.HandleEvent(ev)
			}
		}
	}()
}

// ---- local path ----

// CreateObject commits a locally created object, broadcasts it and issues the
// durable insert. Returns the committed copy.
func (o *Orchestrator) CreateObject(ctx context.Context, obj *models.WhiteboardObject) *models.WhiteboardObject {
	obj.BoardID = o.boardID
	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	committed := o.store.AddObjectSync(obj)
	o.publish(ctx, &models.Event{
		Type:    models.EventObjectCreate,
		BoardID: o.boardID,
		Object:  committed,
	})
	o.persist("create", committed.ID, func(ctx context.Context) error {
		return o.repo.Insert(ctx, committed)
	})
	return committed
}

// UpdateObject commits a local partial update, broadcasts the delta (not the
// whole object) and issues the durable write. Unknown id is a no-op returning
// nil.
func (o *Orchestrator) UpdateObject(ctx context.Context, id uuid.UUID, patch models.ObjectPatch) *models.WhiteboardObject {
	committed := o.store.UpdateObjectSync(id, patch)
	if committed == nil {
		return nil
	}
	wire := patch
	wire.UpdatedBy = committed.UpdatedBy
	wire.UpdatedAt = committed.UpdatedAt
	wire.Version = committed.Version
	o.publish(ctx, &models.Event{
		Type:     models.EventObjectUpdate,
		BoardID:  o.boardID,
		ObjectID: id,
		Patch:    &wire,
	})
	o.persist("update", id, func(ctx context.Context) error {
		_, err := o.repo.Update(ctx, id, wire)
		return err
	})
	return committed
}

// UpdateText commits a text edit immediately (optimistic, per keystroke) but
// coalesces the broadcast and durable write through the looser text throttle,
// so only the latest content in each window goes out.
func (o *Orchestrator) UpdateText(_ context.Context, id uuid.UUID, text string) *models.WhiteboardObject {
	patch := models.ObjectPatch{Properties: map[string]any{"text": text}}
	committed := o.store.UpdateObjectSync(id, patch)
	if committed == nil {
		return nil
	}
	wire := patch
	wire.UpdatedBy = committed.UpdatedBy
	wire.UpdatedAt = committed.UpdatedAt
	wire.Version = committed.Version
	o.textThrottle.Offer("text:"+id.String(), throttledUpdate{id: id, patch: wire})
	return committed
}

// DeleteObject commits a local delete, broadcasts it and issues the durable
// delete. The event carries a pair strictly newer than the deleted copy so the
// delete wins at every peer still holding it.
func (o *Orchestrator) DeleteObject(ctx context.Context, id uuid.UUID) bool {
	deleted := o.store.DeleteObjectSync(id)
	if deleted == nil {
		return false
	}
	o.publish(ctx, &models.Event{
		Type:      models.EventObjectDelete,
		BoardID:   o.boardID,
		ObjectIDs: []uuid.UUID{id},
		Version:   deleted.Version + 1,
		UpdatedAt: time.Now(),
	})
	o.persist("delete", id, func(ctx context.Context) error {
		return o.repo.Delete(ctx, id)
	})
	return true
}

// DeleteSelected removes the whole selection as one history entry, one
// broadcast message and one repository call.
func (o *Orchestrator) DeleteSelected(ctx context.Context) int {
	deleted := o.store.DeleteSelectedSync()
	if len(deleted) == 0 {
		return 0
	}
	ids := make([]uuid.UUID, len(deleted))
	var maxVersion int64
	for i, obj := range deleted {
		ids[i] = obj.ID
		if obj.Version > maxVersion {
			maxVersion = obj.Version
		}
	}
	o.publish(ctx, &models.Event{
		Type:      models.EventObjectDelete,
		BoardID:   o.boardID,
		ObjectIDs: ids,
		Version:   maxVersion + 1,
		UpdatedAt: time.Now(),
	})
	o.persist("delete_many", ids[0], func(ctx context.Context) error {
		return o.repo.DeleteMany(ctx, ids)
	})
	return len(deleted)
}

// BeginDrag opens a history batch for a (possibly multi-object) drag gesture.
// Every DragFrame until EndDrag folds into one undoable entry.
func (o *Orchestrator) BeginDrag() {
	o.dragged = make(map[uuid.UUID]struct{})
	o.store.BeginBatch("move")
}

// DragFrame commits one frame of absolute positions and offers the resulting
// move batch to the frame-rate throttle. Intermediate frames within a window
// are dropped; the latest always goes out.
func (o *Orchestrator) DragFrame(positions map[uuid.UUID][2]float64) {
	patches := make(map[uuid.UUID]models.ObjectPatch, len(positions))
	for id, pos := range positions {
		patches[id] = models.ObjectPatch{X: models.Float64Ptr(pos[0]), Y: models.Float64Ptr(pos[1])}
	}
	updated := o.store.BatchUpdateObjectsSync("move", patches)
	if len(updated) == 0 {
		return
	}
	moves := make([]models.ObjectMove, len(updated))
	for i, obj := range updated {
		if o.dragged != nil {
			o.dragged[obj.ID] = struct{}{}
		}
		moves[i] = models.ObjectMove{
			ObjectID:  obj.ID,
			X:         obj.X,
			Y:         obj.Y,
			UpdatedAt: obj.UpdatedAt,
			Version:   obj.Version,
		}
	}
	o.moveThrottle.Offer(movesKey, moves)
}

// EndDrag closes the history batch, flushes the final positions to the wire
// and persists them in a single repository call.
func (o *Orchestrator) EndDrag() {
	o.store.CommitBatch()
	o.moveThrottle.Flush()

	patches := make(map[uuid.UUID]models.ObjectPatch, len(o.dragged))
	for id := range o.dragged {
		if obj := o.store.Get(id); obj != nil {
			patches[id] = models.ObjectPatch{
				X:         models.Float64Ptr(obj.X),
				Y:         models.Float64Ptr(obj.Y),
				UpdatedBy: obj.UpdatedBy,
				UpdatedAt: obj.UpdatedAt,
			}
		}
	}
	o.dragged = nil
	if len(patches) == 0 {
		return
	}
	o.persist("move_batch", o.boardID, func(ctx context.Context) error {
		return o.repo.BatchUpdate(ctx, patches)
	})
}

// Objects returns the store's current view of the board.
func (o *Orchestrator) Objects() []*models.WhiteboardObject {
	return o.store.Objects()
}

// SelectObject marks an object selected. Selection is local-only transient UI
// state: never broadcast, never historied.
func (o *Orchestrator) SelectObject(id uuid.UUID) {
	o.store.SelectObject(id)
}

// DeselectAll clears the local selection.
func (o *Orchestrator) DeselectAll() {
	o.store.DeselectAll()
}

// MoveCursor broadcasts this user's absolute cursor position through the
// frame-rate throttle. Never stored, never historied.
func (o *Orchestrator) MoveCursor(x, y float64) {
	o.moveThrottle.Offer(cursorKey, models.CursorPosition{X: x, Y: y})
}

// Undo reverts the most recent local entry, then re-broadcasts and re-persists
// the restored states so peers converge on them. Reports whether anything was
// undone.
func (o *Orchestrator) Undo(ctx context.Context) bool {
	items := o.store.Undo()
	if items == nil {
		return false
	}
	for i := len(items) - 1; i >= 0; i-- {
		o.syncRestoredState(ctx, items[i].ObjectID, items[i].Before, items[i].After)
	}
	return true
}

// Redo reapplies the most recently undone entry and propagates it likewise.
func (o *Orchestrator) Redo(ctx context.Context) bool {
	items := o.store.Redo()
	if items == nil {
		return false
	}
	for _, item := range items {
		o.syncRestoredState(ctx, item.ObjectID, item.After, item.Before)
	}
	return true
}

// syncRestoredState propagates one restored history state. The local store
// holds the exact snapshot; the wire copy is re-stamped with a strictly newer
// pair than the displaced state so peers accept it under last-write-wins.
func (o *Orchestrator) syncRestoredState(ctx context.Context, id uuid.UUID, restored, displaced *models.WhiteboardObject) {
	if restored == nil {
		// The restore removed the object.
		var version int64 = 1
		if displaced != nil {
			version = displaced.Version + 1
		}
		o.publish(ctx, &models.Event{
			Type:      models.EventObjectDelete,
			BoardID:   o.boardID,
			ObjectIDs: []uuid.UUID{id},
			Version:   version,
			UpdatedAt: time.Now(),
		})
		o.persist("delete", id, func(ctx context.Context) error {
			return o.repo.Delete(ctx, id)
		})
		return
	}
	wire := restored.Clone()
	if displaced != nil && displaced.Version >= wire.Version {
		wire.Version = displaced.Version + 1
	}
	wire.UpdatedAt = time.Now()
	wire.UpdatedBy = o.userID
	o.publish(ctx, &models.Event{
		Type:    models.EventObjectCreate,
		BoardID: o.boardID,
		Object:  wire,
	})
	o.persist("restore", id, func(ctx context.Context) error {
		return o.repo.Insert(ctx, wire)
	})
}

// ---- remote path ----

// HandleEvent applies one incoming broadcast event. Self-echo is dropped by
// sender id; everything else passes through the conflict resolver inside the
// store and mutates state without touching history: a remote event never
// becomes undoable and is never re-broadcast.
func (o *Orchestrator) HandleEvent(ev *models.Event) {
	if ev.SenderID == o.userID {
		return
	}

	applied := false
	switch ev.Type {
	case models.EventObjectCreate:
		if ev.Object != nil {
			applied = o.store.ApplyRemoteUpsert(ev.Object)
		}
	case models.EventObjectUpdate:
		if ev.Patch != nil {
			applied = o.store.ApplyRemotePatch(ev.ObjectID, *ev.Patch)
		}
	case models.EventObjectDelete:
		for _, id := range ev.ObjectIDs {
			if o.store.ApplyRemoteDelete(id, ev.Version, ev.UpdatedAt) {
				applied = true
			}
		}
	case models.EventObjectMoveBatch:
		for _, move := range ev.Moves {
			patch := models.ObjectPatch{
				X:         models.Float64Ptr(move.X),
				Y:         models.Float64Ptr(move.Y),
				UpdatedBy: ev.SenderID,
				UpdatedAt: move.UpdatedAt,
				Version:   move.Version,
			}
			if o.store.ApplyRemotePatch(move.ObjectID, patch) {
				applied = true
			}
		}
	case models.EventCursorUpdate:
		// Cursors never touch the store; they go straight to the renderer.
		applied = true
	default:
		log.Printf("syncer: ignoring unknown event type %q on board %s", ev.Type, o.boardID)
	}

	if applied && o.onRemote != nil {
		o.onRemote(ev)
	}
}

// ---- plumbing ----

// throttledUpdate is a pending object_update held inside a throttle window.
type throttledUpdate struct {
	id    uuid.UUID
	patch models.ObjectPatch
}

// emitThrottled is the throttle flush target: it turns the coalesced value
// into a wire event and, for text updates, the matching durable write.
func (o *Orchestrator) emitThrottled(key string, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	switch payload := v.(type) {
	case models.CursorPosition:
		o.publish(ctx, &models.Event{
			Type:    models.EventCursorUpdate,
			BoardID: o.boardID,
			Cursor:  &payload,
		})
	case []models.ObjectMove:
		o.publish(ctx, &models.Event{
			Type:    models.EventObjectMoveBatch,
			BoardID: o.boardID,
			Moves:   payload,
		})
	case throttledUpdate:
		o.publish(ctx, &models.Event{
			Type:     models.EventObjectUpdate,
			BoardID:  o.boardID,
			ObjectID: payload.id,
			Patch:    &payload.patch,
		})
		o.persist("update", payload.id, func(ctx context.Context) error {
			_, err := o.repo.Update(ctx, payload.id, payload.patch)
			return err
		})
	default:
		log.Printf("syncer: unknown throttled payload %T for key %s", v, key)
	}
}

// publish sends one event, stamping sender and time. Failures are logged and
// swallowed: broadcast is best-effort and never rolls back local state.
func (o *Orchestrator) publish(ctx context.Context, ev *models.Event) {
	ev.SenderID = o.userID
	ev.SentAt = time.Now()
	if err := o.bus.Publish(ctx, ev); err != nil {
		log.Printf("syncer: broadcast %s failed board=%s: %v", ev.Type, o.boardID, err)
	}
}

// persist queues one fire-and-forget durable write. Failures are logged with
// enough context to diagnose and are not retried here; the local view stays
// ahead of the backing store, which is the accepted trade.
func (o *Orchestrator) persist(op string, id uuid.UUID, fn func(context.Context) error) {
	write := func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			log.Printf("syncer: persist %s failed board=%s object=%s: %v", op, o.boardID, id, err)
		}
	}
	select {
	case o.writes <- write:
	case <-o.done:
	default:
		// Queue full: drop rather than block the caller. A dropped write
		// is the data-loss risk accepted in this design.
		log.Printf("syncer: persist queue full, dropping %s board=%s object=%s", op, o.boardID, id)
	}
}

// writeLoop serializes durable writes off the caller's goroutine so repository
// latency never blocks a gesture.
func (o *Orchestrator) writeLoop() {
	for {
		select {
		case write := <-o.writes:
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			write(ctx)
			cancel()
		case <-o.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case write := <-o.writes:
					ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
					write(ctx)
					cancel()
				default:
					return
				}
			}
		}
	}
}

// Close flushes throttles, drains pending durable writes and leaves presence.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.moveThrottle.Stop()
	o.textThrottle.Stop()
	close(o.done)
	if o.presence != nil {
		return o.presence.Leave(ctx)
	}
	return nil
}
