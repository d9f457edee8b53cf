// Package history keeps per-client undo/redo state. Entries hold inverse
// snapshots of locally mutated objects; remotely originated mutations never
// pass through here.
package history

import (
	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/models"
)

// DefaultDepth is the undo stack cap. Oldest entries are silently evicted once
// exceeded, never an error.
const DefaultDepth = 50

// Item records one object's state on either side of a mutation. A nil Before
// means the object did not exist (undo deletes it); a nil After means the
// mutation deleted it (redo deletes it again).
type Item struct {
	ObjectID uuid.UUID
	Before   *models.WhiteboardObject
	After    *models.WhiteboardObject
}

// Entry is one undoable unit: a single mutation, or a whole batch (multi-object
// drag, multi-delete) committed as one. Undo applies every item's Before state
// atomically; redo applies every After state.
type Entry struct {
	Label string
	Items []Item
}

// Log holds the undo and redo stacks. It is a passive data structure; the
// object store drives it while holding its own lock, so Log itself does no
// locking.
type Log struct {
	depth   int
	undo    []Entry
	redo    []Entry
	pending *Entry
}

// NewLog returns a log capped at depth entries. depth <= 0 selects DefaultDepth.
func NewLog(depth int) *Log {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Log{depth: depth}
}

// Begin opens a batch. Subsequent Record calls append to it instead of creating
// their own entries, until Commit. Beginning while a batch is open commits the
// open one first so a missed Commit cannot leak mutations into the wrong entry.
func (l *Log) Begin(label string) {
	if l.pending != nil {
		l.Commit()
	}
	l.pending = &Entry{Label: label}
}

// Commit closes the open batch and pushes it as one entry. An empty batch
// (no recorded items) is discarded. No-op when no batch is open.
func (l *Log) Commit() {
	if l.pending == nil {
		return
	}
	entry := *l.pending
	l.pending = nil
	if len(entry.Items) == 0 {
		return
	}
	l.push(entry)
}

// Record adds one item. Inside an open batch it joins the pending entry;
// otherwise it becomes a single-item entry under the given label. Any new
// recording invalidates the redo stack.
func (l *Log) Record(label string, item Item) {
	l.redo = nil
	if l.pending != nil {
		l.pending.Items = append(l.pending.Items, item)
		return
	}
	l.push(Entry{Label: label, Items: []Item{item}})
}

func (l *Log) push(entry Entry) {
	l.redo = nil
	l.undo = append(l.undo, entry)
	if len(l.undo) > l.depth {
		// Evict oldest. Copy to keep the backing array from pinning
		// evicted snapshots.
		l.undo = append([]Entry(nil), l.undo[1:]...)
	}
}

// PopUndo removes and returns the most recent entry, moving it to the redo
// stack. ok is false on an empty stack.
func (l *Log) PopUndo() (Entry, bool) {
	if len(l.undo) == 0 {
		return Entry{}, false
	}
	entry := l.undo[len(l.undo)-1]
	l.undo = l.undo[:len(l.undo)-1]
	l.redo = append(l.redo, entry)
	return entry, true
}

// PopRedo removes and returns the most recently undone entry, moving it back to
// the undo stack. ok is false on an empty stack.
func (l *Log) PopRedo() (Entry, bool) {
	if len(l.redo) == 0 {
		return Entry{}, false
	}
	entry := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	l.undo = append(l.undo, entry)
	return entry, true
}

// Clear drops both stacks and any open batch. Called on board switch.
func (l *Log) Clear() {
	l.undo = nil
	l.redo = nil
	l.pending = nil
}

// UndoLen returns the number of undoable entries.
func (l *Log) UndoLen() int { return len(l.undo) }

// RedoLen returns the number of redoable entries.
func (l *Log) RedoLen() int { return len(l.redo) }

// InBatch reports whether a batch bracket is currently open.
func (l *Log) InBatch() bool { return l.pending != nil }
