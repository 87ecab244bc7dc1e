package chainbase

import "fmt"

// Index declares a secondary index over a row type. Declare indices as
// package-level vars and pass them to AddTable:
//
//	var accountsByName = chainbase.NewIndex("name", func(a *Account) any { return a.Name }).Unique()
//
// The key function may return nil to keep a row out of the index. Returned
// keys must be of a consistent type for the lifetime of the index; see
// appendKey for the supported key types.
type Index[Row any] struct {
	name   string
	key    func(*Row) any
	unique bool
	hashed bool

	pos   int // position in the owning table's index list
	bound bool
}

// NewIndex declares an ordered, non-unique secondary index.
func NewIndex[Row any](name string, key func(*Row) any) *Index[Row] {
	if key == nil {
		panic(fmt.Errorf("chainbase: index %q has no key function", name))
	}
	return &Index[Row]{name: name, key: key}
}

// Unique makes the index reject two rows with equal keys.
func (idx *Index[Row]) Unique() *Index[Row] {
	idx.unique = true
	return idx
}

// Hashed backs the index with a hash map instead of an ordered tree.
// Hashed indices support equality lookup only.
func (idx *Index[Row]) Hashed() *Index[Row] {
	idx.hashed = true
	return idx
}

func (idx *Index[Row]) Name() string {
	return idx.name
}

func (idx *Index[Row]) IsUnique() bool {
	return idx.unique
}

// keyBytes computes the row's encoded key for this index, or nil when the
// row is not indexed.
func (idx *Index[Row]) keyBytes(row *Row) []byte {
	k := idx.key(row)
	if k == nil {
		return nil
	}
	return appendKey(nil, k)
}
