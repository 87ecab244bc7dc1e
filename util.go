package chainbase

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// cloneRow deep-copies a row through its serialized form, so pre-images
// never alias slices or maps still reachable from the live object.
func cloneRow[Row any](src *Row) (*Row, error) {
	raw, err := msgpack.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("chainbase: clone %T: %w", src, err)
	}
	dst := new(Row)
	if err := msgpack.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("chainbase: clone %T: %w", src, err)
	}
	return dst, nil
}

func idKey(id ID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func keyID(key []byte) ID {
	return ID(binary.BigEndian.Uint64(key))
}
