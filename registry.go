package chainbase

import (
	"errors"
	"fmt"
	"reflect"

	"go.etcd.io/bbolt"
)

// abstractTable is the type-erased view of a Table used by the database
// to broadcast operations over every registered kind.
type abstractTable interface {
	Name() string
	TypeID() TypeID
	Revision() int64
	Undo() error
	Squash() error
	Commit(revision int64)
	UndoAll() error
	SetRevision(revision int64) error
	RemoveObject(id int64) error
	Validate() error

	startSession(enabled bool) (*TableSession, error)
	save(btx *bbolt.Tx) error
	load(btx *bbolt.Tx) error
}

func (t *Table[Row]) startSession(enabled bool) (*TableSession, error) {
	return t.StartUndoSession(enabled)
}

// AddTable registers an object kind, loading its record from the segment
// on reopen; a new kind's record is written at the next flush. Registration is
// idempotent across restarts but each kind may be added only once per
// database handle.
func AddTable[Row any](db *Database, typeID TypeID, indices ...*Index[Row]) (*Table[Row], error) {
	if db.seg == nil {
		return nil, fmt.Errorf("chainbase: database is not open: %w", ErrInvalidState)
	}
	t := newTable(db, typeID, indices)
	key := typeID.Key()
	if int(key) < len(db.tableMap) && db.tableMap[key] != nil {
		return nil, fmt.Errorf("chainbase: %s: type id %d: %w", t.name, key, ErrDuplicateRegistration)
	}
	if db.tablesByType[t.rowType] != nil {
		return nil, fmt.Errorf("chainbase: %s: %w", t.name, ErrDuplicateRegistration)
	}

	err := db.seg.View(func(btx *bbolt.Tx) error {
		return t.load(btx)
	})
	switch {
	case errors.Is(err, errRecordMissing):
		if db.readOnly {
			return nil, fmt.Errorf("chainbase: no record for %s in read-only database: %w", t.name, ErrNotFound)
		}
		// Fresh kind; its record is created on the next flush.
	case err != nil:
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if int(key) >= len(db.tableMap) {
		grown := make([]abstractTable, int(key)+1)
		copy(grown, db.tableMap)
		db.tableMap = grown
	}
	db.tableMap[key] = t
	db.tableList = append(db.tableList, t)
	if db.tablesByType == nil {
		db.tablesByType = make(map[reflect.Type]abstractTable)
	}
	db.tablesByType[t.rowType] = t
	if db.verbose {
		db.logf("db: ATTACH %s (type id %v, %d objects, revision %d)", t.name, typeID, t.Len(), t.Revision())
	}
	return t, nil
}

// HasTable reports whether a kind is registered on this handle.
func HasTable[Row any](db *Database) bool {
	rt := reflect.TypeOf((*Row)(nil)).Elem()
	return db.tablesByType[rt] != nil
}

// TableOf returns the registered table for Row. Asking for an
// unregistered kind is a programmer error.
func TableOf[Row any](db *Database) *Table[Row] {
	rt := reflect.TypeOf((*Row)(nil)).Elem()
	at := db.tablesByType[rt]
	if at == nil {
		panic(fmt.Errorf("chainbase: no table registered for %v", rt))
	}
	return at.(*Table[Row])
}

// Create constructs a new object of a registered kind.
func Create[Row any](db *Database, ctor func(*Row) error) (*Row, error) {
	return TableOf[Row](db).Emplace(ctor)
}

// Modify applies a mutator to a live object.
func Modify[Row any](db *Database, row *Row, mut func(*Row) error) error {
	return TableOf[Row](db).Modify(row, mut)
}

// Remove erases a live object.
func Remove[Row any](db *Database, row *Row) error {
	return TableOf[Row](db).Remove(row)
}

// Find returns the live object with the given id, or nil.
func Find[Row any](db *Database, id ID) *Row {
	return TableOf[Row](db).Find(id)
}

// Get is Find that fails with ErrNotFound.
func Get[Row any](db *Database, id ID) (*Row, error) {
	return TableOf[Row](db).Get(id)
}

// FindBy returns the first live object matching key in a secondary index,
// or nil.
func FindBy[Row any](db *Database, idx *Index[Row], key any) *Row {
	return TableOf[Row](db).FindBy(idx, key)
}

// GetBy is FindBy that fails with ErrNotFound.
func GetBy[Row any](db *Database, idx *Index[Row], key any) (*Row, error) {
	return TableOf[Row](db).GetBy(idx, key)
}
