package chainbase

import "fmt"

// undoState records the reversible deltas of one revision: pre-images of
// modified and removed rows, the set of created ids, and the next_id as it
// was on entering the revision. For any id at most one of the three
// containers holds an entry.
type undoState[Row any] struct {
	oldValues     map[ID]*Row
	removedValues map[ID]*Row
	newIDs        map[ID]struct{}
	oldNextID     ID
	revision      int64
}

func newUndoState[Row any](nextID ID, revision int64) *undoState[Row] {
	return &undoState[Row]{
		oldValues:     make(map[ID]*Row),
		removedValues: make(map[ID]*Row),
		newIDs:        make(map[ID]struct{}),
		oldNextID:     nextID,
		revision:      revision,
	}
}

func (t *Table[Row]) undoEnabled() bool {
	return len(t.stack) > 0
}

func (t *Table[Row]) head() *undoState[Row] {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

func (t *Table[Row]) onCreate(id ID) {
	if head := t.head(); head != nil {
		head.newIDs[id] = struct{}{}
	}
}

// onModify captures the pre-image on the first write within the revision.
// Rows created in this revision need no pre-image; undo deletes them.
func (t *Table[Row]) onModify(row *Row) error {
	head := t.head()
	if head == nil {
		return nil
	}
	id := t.rowID(row)
	if _, ok := head.newIDs[id]; ok {
		return nil
	}
	if _, ok := head.oldValues[id]; ok {
		return nil
	}
	pre, err := cloneRow(row)
	if err != nil {
		return err
	}
	head.oldValues[id] = pre
	return nil
}

func (t *Table[Row]) onRemove(row *Row) error {
	head := t.head()
	if head == nil {
		return nil
	}
	id := t.rowID(row)
	if _, ok := head.newIDs[id]; ok {
		// Created and removed within the same revision: net nop.
		delete(head.newIDs, id)
		return nil
	}
	if pre, ok := head.oldValues[id]; ok {
		head.removedValues[id] = pre
		delete(head.oldValues, id)
		return nil
	}
	if _, ok := head.removedValues[id]; ok {
		return nil
	}
	pre, err := cloneRow(row)
	if err != nil {
		return err
	}
	head.removedValues[id] = pre
	return nil
}

// StartUndoSession pushes a new undo state and increments the revision.
// With enabled=false it returns an inert session reporting revision -1.
// The caller must terminate the session with Push, Squash or Undo; the
// idiomatic shape is:
//
//	session, err := table.StartUndoSession(true)
//	if err != nil { ... }
//	defer session.Undo()
//	... mutations ...
//	session.Push()
func (t *Table[Row]) StartUndoSession(enabled bool) (*TableSession, error) {
	if !enabled {
		return &TableSession{table: t, rev: -1}, nil
	}
	if err := t.db.requireWrite("start_undo_session", t.name); err != nil {
		return nil, err
	}
	t.revision++
	t.stack = append(t.stack, newUndoState[Row](t.nextID, t.revision))
	return &TableSession{table: t, armed: true, rev: t.revision}, nil
}

// Undo restores the state to how it was prior to the newest revision,
// discarding all changes made within it. A no-op with an empty stack.
func (t *Table[Row]) Undo() error {
	if !t.undoEnabled() {
		return nil
	}
	head := t.head()

	for id, pre := range head.oldValues {
		live := t.mi.find(id)
		if live == nil {
			return fmt.Errorf("chainbase: undo %s: modified id %d is not live: %w", t.name, id, ErrStateCorrupt)
		}
		oldKeys := t.indexKeys(live)
		*live = *pre
		if err := t.mi.updateKeys(id, oldKeys, t.indexKeys(live)); err != nil {
			return fmt.Errorf("chainbase: undo %s id %d: %w (%v)", t.name, id, ErrStateCorrupt, err)
		}
	}

	for id := range head.newIDs {
		live := t.mi.find(id)
		if live == nil {
			return fmt.Errorf("chainbase: undo %s: created id %d is not live: %w", t.name, id, ErrStateCorrupt)
		}
		t.mi.erase(id, t.indexKeys(live))
	}

	t.nextID = head.oldNextID

	for id, pre := range head.removedValues {
		if err := t.mi.insert(id, pre, t.indexKeys(pre)); err != nil {
			return fmt.Errorf("chainbase: undo %s id %d: %w (%v)", t.name, id, ErrStateCorrupt, err)
		}
	}

	t.stack = t.stack[:len(t.stack)-1]
	t.revision--
	return nil
}

// Squash merges the newest undo state into the one below it, preserving
// the net effect while reducing stack depth by one. Only the undo buffer
// changes; live data is untouched.
//
// With a single state on the stack there is nothing to merge into: the
// state is dropped without rolling anything back, which commits the
// bottom-most revision (and, like Commit, does not decrement the
// revision).
func (t *Table[Row]) Squash() error {
	if !t.undoEnabled() {
		return nil
	}
	if len(t.stack) == 1 {
		t.stack = t.stack[1:]
		return nil
	}

	state := t.stack[len(t.stack)-1]
	prev := t.stack[len(t.stack)-2]

	// Merging adjacent change sets per id. With A = prev and B = state:
	//
	//                 |---------------------- B ---------------------|
	//              +------------+------------+------------+------------+
	//              | new        | upd(Y)     | del(Y)     | nop        |
	// +------------+------------+------------+------------+------------+
	// | A new      | N/A        | new        | nop        | new        |
	// | A upd(X)   | N/A        | upd(X)     | del(X)     | upd(X)     |
	// | A del(X)   | N/A        | N/A        | N/A        | del(X)     |
	// | A nop      | new        | upd(Y)     | del(Y)     | nop        |
	// +------------+------------+------------+------------+------------+
	//
	// A already carries the older pre-image, so only B's novel information
	// moves down. N/A cells cannot arise from a causally valid history.

	for id, pre := range state.oldValues {
		if _, ok := prev.newIDs[id]; ok {
			continue
		}
		if _, ok := prev.oldValues[id]; ok {
			continue
		}
		prev.oldValues[id] = pre
	}

	for id := range state.newIDs {
		prev.newIDs[id] = struct{}{}
	}

	for id, pre := range state.removedValues {
		if _, ok := prev.newIDs[id]; ok {
			delete(prev.newIDs, id)
			continue
		}
		if old, ok := prev.oldValues[id]; ok {
			prev.removedValues[id] = old
			delete(prev.oldValues, id)
			continue
		}
		if _, ok := prev.removedValues[id]; ok {
			continue
		}
		prev.removedValues[id] = pre
	}

	t.stack = t.stack[:len(t.stack)-1]
	t.revision--
	return nil
}

// Commit discards all undo states at or below revision, making their
// changes unrecoverable.
func (t *Table[Row]) Commit(revision int64) {
	for len(t.stack) > 0 && t.stack[0].revision <= revision {
		t.stack = t.stack[1:]
	}
}

// UndoAll unwinds the entire undo stack.
func (t *Table[Row]) UndoAll() error {
	for t.undoEnabled() {
		if err := t.Undo(); err != nil {
			return err
		}
	}
	return nil
}

// SetRevision aligns a freshly opened table with an externally tracked
// revision. Permitted only while the undo stack is empty.
func (t *Table[Row]) SetRevision(revision int64) error {
	if err := t.db.requireWrite("set_revision", t.name); err != nil {
		return err
	}
	if len(t.stack) != 0 {
		return fmt.Errorf("chainbase: %s: cannot set revision with an existing undo stack: %w", t.name, ErrInvalidState)
	}
	t.revision = revision
	return nil
}
