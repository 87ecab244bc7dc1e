package chainbase

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// appendKey encodes an index key into order-preserving bytes: encoded keys
// compare bytewise the way the original values compare. Supported key
// types: all int and uint kinds (including ID), strings, []byte, bool,
// float32/float64, and flat structs of those (fields compared in
// declaration order). Anything else is a programmer error.
func appendKey(buf []byte, key any) []byte {
	return appendKeyVal(buf, reflect.ValueOf(key))
}

func appendKeyVal(buf []byte, v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return binary.BigEndian.AppendUint64(buf, uint64(v.Int())^(1<<63))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return binary.BigEndian.AppendUint64(buf, v.Uint())
	case reflect.String:
		return appendKeyBytes(buf, []byte(v.String()))
	case reflect.Bool:
		if v.Bool() {
			return append(buf, 1)
		}
		return append(buf, 0)
	case reflect.Float32, reflect.Float64:
		return binary.BigEndian.AppendUint64(buf, orderFloatBits(v.Float()))
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return appendKeyBytes(buf, v.Bytes())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			buf = appendKeyVal(buf, v.Field(i))
		}
		return buf
	case reflect.Pointer:
		if !v.IsNil() {
			return appendKeyVal(buf, v.Elem())
		}
	}
	panic(fmt.Errorf("chainbase: unsupported index key type %v", v.Type()))
}

// appendKeyBytes writes variable-length data with a 0x00 terminator,
// escaping embedded zeros as 0x00 0xFF so that prefixes sort first.
func appendKeyBytes(buf, data []byte) []byte {
	for _, b := range data {
		if b == 0 {
			buf = append(buf, 0, 0xFF)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, 0)
}

// orderFloatBits maps a float64 onto a uint64 whose natural ordering
// matches the float ordering (sign bit flipped for positives, all bits
// flipped for negatives).
func orderFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}
