package chainbase

import (
	"fmt"
	"reflect"
)

// ID is the primary key of every stored object. IDs are assigned
// sequentially per kind. Undo restores the next id, so ids handed out in
// an undone revision are assigned again; a removal never frees an id.
type ID int64

// TypeID identifies a registered object kind. The low 16 bits form the
// registry key; the upper 16 bits carry a version number, so that bumping
// the version changes the TypeID without moving the kind to another
// registry slot.
type TypeID uint32

// MakeTypeID packs a registry key and a version number. Version 1 yields
// a TypeID equal to the bare key.
func MakeTypeID(key uint16, version uint16) TypeID {
	if version <= 1 {
		return TypeID(key)
	}
	return TypeID(uint32(version)<<16 | uint32(key))
}

// Key returns the 16-bit registry key.
func (t TypeID) Key() uint16 {
	return uint16(t)
}

// Version returns the kind's version number.
func (t TypeID) Version() uint16 {
	v := uint16(t >> 16)
	if v == 0 {
		return 1
	}
	return v
}

func (t TypeID) String() string {
	return fmt.Sprintf("%d.v%d", t.Key(), t.Version())
}

var idType = reflect.TypeOf(ID(0))

// idFieldIndex locates the ID field of a row struct. Every registered row
// type must carry exactly one exported field of type chainbase.ID; it is
// assigned and managed by the table.
func idFieldIndex(rt reflect.Type) int {
	if rt.Kind() != reflect.Struct {
		panic(fmt.Errorf("chainbase: row type must be a struct, got %v", rt))
	}
	found := -1
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.Type != idType {
			continue
		}
		if !f.IsExported() {
			panic(fmt.Errorf("chainbase: %v: ID field %s must be exported", rt, f.Name))
		}
		if found >= 0 {
			panic(fmt.Errorf("chainbase: %v has multiple ID fields", rt))
		}
		found = i
	}
	if found < 0 {
		panic(fmt.Errorf("chainbase: %v has no field of type chainbase.ID", rt))
	}
	return found
}
