package chainbase

import (
	"fmt"
	"reflect"
)

// Table is the multi-index container of one registered object kind,
// together with its undo stack. Obtain one from AddTable or TableOf.
//
// Mutating operations must run under the database's write lock; reads on a
// read-only database require a held read lock. Violations are reported
// when locking checks are enabled (SetRequireLocking).
type Table[Row any] struct {
	db      *Database
	name    string
	typeID  TypeID
	rowType reflect.Type
	idField int
	indices []*Index[Row]
	mi      *multiIndex[Row]

	stack    []*undoState[Row]
	revision int64
	nextID   ID

	sizeOfValue uint32
	sizeOfSelf  uint32
}

func newTable[Row any](db *Database, typeID TypeID, indices []*Index[Row]) *Table[Row] {
	rowType := reflect.TypeOf((*Row)(nil)).Elem()
	t := &Table[Row]{
		db:      db,
		name:    rowType.String(),
		typeID:  typeID,
		rowType: rowType,
		idField: idFieldIndex(rowType),
		indices: indices,
	}
	seen := make(map[string]bool, len(indices))
	for pos, idx := range indices {
		// Package-level index vars are re-registered every time a database
		// is opened; the declaration order just has to stay put.
		if idx.bound && idx.pos != pos {
			panic(fmt.Errorf("chainbase: index %q bound at position %d, registered again at %d", idx.name, idx.pos, pos))
		}
		if seen[idx.name] {
			panic(fmt.Errorf("chainbase: %s has two indices named %q", t.name, idx.name))
		}
		seen[idx.name] = true
		idx.pos, idx.bound = pos, true
	}
	t.mi = newMultiIndex(indices)
	t.sizeOfValue = uint32(rowType.Size())
	t.sizeOfSelf = uint32(reflect.TypeOf(*t).Size())
	return t
}

func (t *Table[Row]) Name() string {
	return t.name
}

func (t *Table[Row]) TypeID() TypeID {
	return t.typeID
}

// NextID returns the id the next Emplace will assign.
func (t *Table[Row]) NextID() ID {
	return t.nextID
}

func (t *Table[Row]) Len() int {
	return t.mi.len()
}

func (t *Table[Row]) Revision() int64 {
	return t.revision
}

// Validate checks the footprints captured when the table's record was
// first created against the running binary.
func (t *Table[Row]) Validate() error {
	if uint32(t.rowType.Size()) != t.sizeOfValue || uint32(reflect.TypeOf(*t).Size()) != t.sizeOfSelf {
		return fmt.Errorf("chainbase: %s: %w", t.name, ErrBinaryIncompatible)
	}
	return nil
}

func (t *Table[Row]) rowID(row *Row) ID {
	return ID(reflect.ValueOf(row).Elem().Field(t.idField).Int())
}

func (t *Table[Row]) setRowID(row *Row, id ID) {
	reflect.ValueOf(row).Elem().Field(t.idField).SetInt(int64(id))
}

// indexKeys computes the row's current key for every secondary index.
func (t *Table[Row]) indexKeys(row *Row) [][]byte {
	if len(t.indices) == 0 {
		return nil
	}
	keys := make([][]byte, len(t.indices))
	for i, idx := range t.indices {
		keys[i] = idx.keyBytes(row)
	}
	return keys
}

// Emplace allocates the next id, runs the constructor on a fresh row, and
// inserts it. The id is consumed only if the insert succeeds.
func (t *Table[Row]) Emplace(ctor func(*Row) error) (*Row, error) {
	if err := t.db.requireWrite("emplace", t.name); err != nil {
		return nil, err
	}
	id := t.nextID
	row := new(Row)
	t.setRowID(row, id)
	if ctor != nil {
		if err := ctor(row); err != nil {
			return nil, err
		}
		if t.rowID(row) != id {
			return nil, fmt.Errorf("chainbase: emplace %s: constructor changed id: %w", t.name, ErrInvalidState)
		}
	}
	if err := t.mi.insert(id, row, t.indexKeys(row)); err != nil {
		return nil, fmt.Errorf("chainbase: emplace %s: %w", t.name, err)
	}
	t.nextID++
	t.onCreate(id)
	return row, nil
}

// Modify captures a pre-image, applies the mutator to row in place, and
// revalidates the secondary indices. On any failure the row is restored
// bit-for-bit and the error is returned; a rejected mutation is never
// observable.
func (t *Table[Row]) Modify(row *Row, mut func(*Row) error) error {
	if err := t.db.requireWrite("modify", t.name); err != nil {
		return err
	}
	id := t.rowID(row)
	if live := t.mi.find(id); live != row {
		return fmt.Errorf("chainbase: modify %s id %d: not a live object: %w", t.name, id, ErrNotFound)
	}
	if err := t.onModify(row); err != nil {
		return err
	}
	pre, err := cloneRow(row)
	if err != nil {
		return err
	}
	oldKeys := t.indexKeys(row)
	if err := mut(row); err != nil {
		*row = *pre
		return err
	}
	if t.rowID(row) != id {
		*row = *pre
		return fmt.Errorf("chainbase: modify %s id %d: mutator changed id: %w", t.name, id, ErrInvalidState)
	}
	if err := t.mi.updateKeys(id, oldKeys, t.indexKeys(row)); err != nil {
		*row = *pre
		return fmt.Errorf("chainbase: modify %s id %d: %w", t.name, id, err)
	}
	return nil
}

// Remove erases a live row, recording its pre-image if a session is
// active.
func (t *Table[Row]) Remove(row *Row) error {
	if err := t.db.requireWrite("remove", t.name); err != nil {
		return err
	}
	id := t.rowID(row)
	if live := t.mi.find(id); live != row {
		return fmt.Errorf("chainbase: remove %s id %d: not a live object: %w", t.name, id, ErrNotFound)
	}
	if err := t.onRemove(row); err != nil {
		return err
	}
	t.mi.erase(id, t.indexKeys(row))
	return nil
}

// RemoveObject looks a row up by id and removes it.
func (t *Table[Row]) RemoveObject(id int64) error {
	row := t.Find(ID(id))
	if row == nil {
		return fmt.Errorf("chainbase: remove %s id %d: %w", t.name, id, ErrNotFound)
	}
	return t.Remove(row)
}

// Find returns the live row with the given id, or nil. The returned
// pointer stays valid across mutations of unrelated objects; hold it only
// while the segment is open.
func (t *Table[Row]) Find(id ID) *Row {
	ensure(t.db.requireRead("find", t.name))
	return t.mi.find(id)
}

// Get is Find that fails with ErrNotFound.
func (t *Table[Row]) Get(id ID) (*Row, error) {
	if err := t.db.requireRead("get", t.name); err != nil {
		return nil, err
	}
	row := t.mi.find(id)
	if row == nil {
		return nil, fmt.Errorf("chainbase: get %s id %d: %w", t.name, id, ErrNotFound)
	}
	return row, nil
}

// FindBy returns the first live row matching key in the given secondary
// index, or nil.
func (t *Table[Row]) FindBy(idx *Index[Row], key any) *Row {
	ensure(t.db.requireRead("find", t.name))
	t.checkOwnIndex(idx)
	id, ok := t.mi.findBy(idx.pos, appendKey(nil, key))
	if !ok {
		return nil
	}
	return t.mi.find(id)
}

// GetBy is FindBy that fails with ErrNotFound.
func (t *Table[Row]) GetBy(idx *Index[Row], key any) (*Row, error) {
	if err := t.db.requireRead("get", t.name); err != nil {
		return nil, err
	}
	t.checkOwnIndex(idx)
	id, ok := t.mi.findBy(idx.pos, appendKey(nil, key))
	if !ok {
		return nil, fmt.Errorf("chainbase: get %s by %s: %w", t.name, idx.name, ErrNotFound)
	}
	return t.mi.find(id), nil
}

// InspectObjects visits every live row in id order.
func (t *Table[Row]) InspectObjects(fn func(*Row)) {
	ensure(t.db.requireRead("inspect", t.name))
	t.mi.ascend(func(_ ID, row *Row) bool {
		fn(row)
		return true
	})
}

func (t *Table[Row]) checkOwnIndex(idx *Index[Row]) {
	if idx.pos >= len(t.indices) || t.indices[idx.pos] != idx {
		panic(fmt.Errorf("chainbase: index %q does not belong to table %s", idx.name, t.name))
	}
}
