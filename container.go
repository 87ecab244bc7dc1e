package chainbase

import (
	"bytes"
	"fmt"
	"math"

	"github.com/google/btree"
)

const btreeDegree = 16

// multiIndex holds the live objects of one kind: a primary tree ordered by
// id plus one secondary container per declared index. It is not safe for
// concurrent use; callers hold the database's write lock for mutations.
type multiIndex[Row any] struct {
	byID *btree.BTreeG[pair[Row]]
	sec  []secondary
}

type pair[Row any] struct {
	id  ID
	row *Row
}

func newMultiIndex[Row any](defs []*Index[Row]) *multiIndex[Row] {
	mi := &multiIndex[Row]{
		byID: btree.NewG(btreeDegree, func(a, b pair[Row]) bool { return a.id < b.id }),
	}
	for _, def := range defs {
		if def.hashed {
			mi.sec = append(mi.sec, &hashedIndex{unique: def.unique, m: make(map[string][]ID)})
		} else {
			mi.sec = append(mi.sec, newOrderedIndex(def.unique))
		}
	}
	return mi
}

func (mi *multiIndex[Row]) find(id ID) *Row {
	p, ok := mi.byID.Get(pair[Row]{id: id})
	if !ok {
		return nil
	}
	return p.row
}

// insert adds a row under id with the given secondary keys (nil = not
// indexed). All uniqueness checks run before anything is mutated, so a
// failed insert leaves the container untouched.
func (mi *multiIndex[Row]) insert(id ID, row *Row, keys [][]byte) error {
	if _, ok := mi.byID.Get(pair[Row]{id: id}); ok {
		return fmt.Errorf("id %d already present: %w", id, ErrUniquenessViolation)
	}
	for i, s := range mi.sec {
		if keys[i] != nil && s.conflicts(keys[i], id) {
			return fmt.Errorf("index %d: %w", i, ErrUniquenessViolation)
		}
	}
	mi.byID.ReplaceOrInsert(pair[Row]{id: id, row: row})
	for i, s := range mi.sec {
		if keys[i] != nil {
			s.insert(keys[i], id)
		}
	}
	return nil
}

func (mi *multiIndex[Row]) erase(id ID, keys [][]byte) {
	mi.byID.Delete(pair[Row]{id: id})
	for i, s := range mi.sec {
		if keys[i] != nil {
			s.remove(keys[i], id)
		}
	}
}

// updateKeys moves a row's secondary entries from oldKeys to newKeys,
// checking unique indices first so a rejected update changes nothing.
func (mi *multiIndex[Row]) updateKeys(id ID, oldKeys, newKeys [][]byte) error {
	for i, s := range mi.sec {
		if bytes.Equal(oldKeys[i], newKeys[i]) {
			continue
		}
		if newKeys[i] != nil && s.conflicts(newKeys[i], id) {
			return fmt.Errorf("index %d: %w", i, ErrUniquenessViolation)
		}
	}
	for i, s := range mi.sec {
		if bytes.Equal(oldKeys[i], newKeys[i]) {
			continue
		}
		if oldKeys[i] != nil {
			s.remove(oldKeys[i], id)
		}
		if newKeys[i] != nil {
			s.insert(newKeys[i], id)
		}
	}
	return nil
}

func (mi *multiIndex[Row]) findBy(pos int, key []byte) (ID, bool) {
	return mi.sec[pos].first(key)
}

func (mi *multiIndex[Row]) len() int {
	return mi.byID.Len()
}

// ascend visits live rows in id order until fn returns false.
func (mi *multiIndex[Row]) ascend(fn func(id ID, row *Row) bool) {
	mi.byID.Ascend(func(p pair[Row]) bool {
		return fn(p.id, p.row)
	})
}

func (mi *multiIndex[Row]) clear() {
	mi.byID.Clear(false)
	for _, s := range mi.sec {
		s.clear()
	}
}

// secondary is one secondary container: ordered (btree) or hashed (map).
type secondary interface {
	insert(key []byte, id ID)
	remove(key []byte, id ID)
	first(key []byte) (ID, bool)
	conflicts(key []byte, self ID) bool
	clear()
}

type secEntry struct {
	key []byte
	id  ID
}

type orderedIndex struct {
	unique bool
	tree   *btree.BTreeG[secEntry]
}

func newOrderedIndex(unique bool) *orderedIndex {
	return &orderedIndex{
		unique: unique,
		tree: btree.NewG(btreeDegree, func(a, b secEntry) bool {
			if c := bytes.Compare(a.key, b.key); c != 0 {
				return c < 0
			}
			return a.id < b.id
		}),
	}
}

func (oi *orderedIndex) insert(key []byte, id ID) {
	oi.tree.ReplaceOrInsert(secEntry{key: key, id: id})
}

func (oi *orderedIndex) remove(key []byte, id ID) {
	oi.tree.Delete(secEntry{key: key, id: id})
}

func (oi *orderedIndex) first(key []byte) (ID, bool) {
	var id ID
	var found bool
	oi.tree.AscendGreaterOrEqual(secEntry{key: key, id: ID(math.MinInt64)}, func(e secEntry) bool {
		if bytes.Equal(e.key, key) {
			id, found = e.id, true
		}
		return false
	})
	return id, found
}

func (oi *orderedIndex) conflicts(key []byte, self ID) bool {
	if !oi.unique {
		return false
	}
	id, ok := oi.first(key)
	return ok && id != self
}

func (oi *orderedIndex) clear() {
	oi.tree.Clear(false)
}

type hashedIndex struct {
	unique bool
	m      map[string][]ID
}

func (hi *hashedIndex) insert(key []byte, id ID) {
	k := string(key)
	hi.m[k] = append(hi.m[k], id)
}

func (hi *hashedIndex) remove(key []byte, id ID) {
	k := string(key)
	ids := hi.m[k]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(hi.m, k)
	} else {
		hi.m[k] = ids
	}
}

func (hi *hashedIndex) first(key []byte) (ID, bool) {
	ids := hi.m[string(key)]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

func (hi *hashedIndex) conflicts(key []byte, self ID) bool {
	if !hi.unique {
		return false
	}
	for _, id := range hi.m[string(key)] {
		if id != self {
			return true
		}
	}
	return false
}

func (hi *hashedIndex) clear() {
	clear(hi.m)
}
