package chainbase

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// On-disk layout of the segment (shared_memory.bin): one "environment"
// bucket holding the sentinel, plus one bucket per registered kind keyed
// by the kind's type name. A kind's bucket holds a "meta" record
// (next_id, revision, footprints, checksum), an "objects" sub-bucket of
// big-endian id -> encoded row, and an "undo" record with the serialized
// undo stack. Records are rewritten wholesale on flush; durability exists
// only at flush boundaries.

var (
	envBucketName     = []byte("environment")
	envRecordKey      = []byte("environment")
	objectsBucketName = []byte("objects")
	metaRecordKey     = []byte("meta")
	undoRecordKey     = []byte("undo")
)

var errRecordMissing = errors.New("chainbase: record missing")

type tableRecordMeta struct {
	NextID      int64  `msgpack:"nid"`
	Revision    int64  `msgpack:"rev"`
	SizeOfValue uint32 `msgpack:"szv"`
	SizeOfSelf  uint32 `msgpack:"szs"`
	Checksum    uint64 `msgpack:"sum"`
}

type undoStateRecord struct {
	OldValues     map[int64][]byte `msgpack:"old"`
	RemovedValues map[int64][]byte `msgpack:"del"`
	NewIDs        []int64          `msgpack:"new"`
	OldNextID     int64            `msgpack:"nid"`
	Revision      int64            `msgpack:"rev"`
}

func (t *Table[Row]) save(btx *bbolt.Tx) error {
	if err := btx.DeleteBucket([]byte(t.name)); err != nil && err != bbolt.ErrBucketNotFound {
		return fmt.Errorf("chainbase: save %s: %w", t.name, err)
	}
	b, err := btx.CreateBucket([]byte(t.name))
	if err != nil {
		return fmt.Errorf("chainbase: save %s: %w", t.name, err)
	}
	ob, err := b.CreateBucket(objectsBucketName)
	if err != nil {
		return fmt.Errorf("chainbase: save %s: %w", t.name, err)
	}

	digest := xxhash.New()
	var saveErr error
	t.mi.ascend(func(id ID, row *Row) bool {
		raw, err := msgpack.Marshal(row)
		if err != nil {
			saveErr = fmt.Errorf("chainbase: save %s id %d: %w", t.name, id, err)
			return false
		}
		k := idKey(id)
		if err := ob.Put(k, raw); err != nil {
			saveErr = fmt.Errorf("chainbase: save %s id %d: %w", t.name, id, err)
			return false
		}
		digest.Write(k)
		digest.Write(raw)
		return true
	})
	if saveErr != nil {
		return saveErr
	}

	undoRaw, err := t.encodeUndoStack()
	if err != nil {
		return err
	}
	if err := b.Put(undoRecordKey, undoRaw); err != nil {
		return fmt.Errorf("chainbase: save %s: %w", t.name, err)
	}
	digest.Write(undoRaw)

	meta := tableRecordMeta{
		NextID:      int64(t.nextID),
		Revision:    t.revision,
		SizeOfValue: t.sizeOfValue,
		SizeOfSelf:  t.sizeOfSelf,
		Checksum:    digest.Sum64(),
	}
	metaRaw, err := msgpack.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("chainbase: save %s: %w", t.name, err)
	}
	if err := b.Put(metaRecordKey, metaRaw); err != nil {
		return fmt.Errorf("chainbase: save %s: %w", t.name, err)
	}
	return nil
}

func (t *Table[Row]) encodeUndoStack() ([]byte, error) {
	records := make([]undoStateRecord, 0, len(t.stack))
	for _, st := range t.stack {
		rec := undoStateRecord{
			OldValues:     make(map[int64][]byte, len(st.oldValues)),
			RemovedValues: make(map[int64][]byte, len(st.removedValues)),
			NewIDs:        make([]int64, 0, len(st.newIDs)),
			OldNextID:     int64(st.oldNextID),
			Revision:      st.revision,
		}
		for id, pre := range st.oldValues {
			raw, err := msgpack.Marshal(pre)
			if err != nil {
				return nil, fmt.Errorf("chainbase: save %s undo state %d: %w", t.name, st.revision, err)
			}
			rec.OldValues[int64(id)] = raw
		}
		for id, pre := range st.removedValues {
			raw, err := msgpack.Marshal(pre)
			if err != nil {
				return nil, fmt.Errorf("chainbase: save %s undo state %d: %w", t.name, st.revision, err)
			}
			rec.RemovedValues[int64(id)] = raw
		}
		for id := range st.newIDs {
			rec.NewIDs = append(rec.NewIDs, int64(id))
		}
		records = append(records, rec)
	}
	raw, err := msgpack.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("chainbase: save %s undo stack: %w", t.name, err)
	}
	return raw, nil
}

func (t *Table[Row]) load(btx *bbolt.Tx) error {
	b := btx.Bucket([]byte(t.name))
	if b == nil {
		return errRecordMissing
	}
	metaRaw := b.Get(metaRecordKey)
	if metaRaw == nil {
		return fmt.Errorf("chainbase: load %s: missing meta record: %w", t.name, ErrStateCorrupt)
	}
	var meta tableRecordMeta
	if err := msgpack.Unmarshal(metaRaw, &meta); err != nil {
		return fmt.Errorf("chainbase: load %s: %w (%v)", t.name, ErrStateCorrupt, err)
	}
	if meta.SizeOfValue != t.sizeOfValue || meta.SizeOfSelf != t.sizeOfSelf {
		return fmt.Errorf("chainbase: load %s: stored %d/%d, binary %d/%d: %w",
			t.name, meta.SizeOfValue, meta.SizeOfSelf, t.sizeOfValue, t.sizeOfSelf, ErrBinaryIncompatible)
	}

	t.mi.clear()
	t.stack = nil

	digest := xxhash.New()
	ob := b.Bucket(objectsBucketName)
	if ob == nil {
		return fmt.Errorf("chainbase: load %s: missing objects bucket: %w", t.name, ErrStateCorrupt)
	}
	err := ob.ForEach(func(k, v []byte) error {
		digest.Write(k)
		digest.Write(v)
		row := new(Row)
		if err := msgpack.Unmarshal(v, row); err != nil {
			return fmt.Errorf("chainbase: load %s: %w (%v)", t.name, ErrStateCorrupt, err)
		}
		id := keyID(k)
		if t.rowID(row) != id {
			return fmt.Errorf("chainbase: load %s: id mismatch at key %d: %w", t.name, id, ErrStateCorrupt)
		}
		if err := t.mi.insert(id, row, t.indexKeys(row)); err != nil {
			return fmt.Errorf("chainbase: load %s id %d: %w (%v)", t.name, id, ErrStateCorrupt, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	undoRaw := b.Get(undoRecordKey)
	if undoRaw == nil {
		return fmt.Errorf("chainbase: load %s: missing undo record: %w", t.name, ErrStateCorrupt)
	}
	digest.Write(undoRaw)
	if digest.Sum64() != meta.Checksum {
		return fmt.Errorf("chainbase: load %s: checksum mismatch: %w", t.name, ErrStateCorrupt)
	}

	var records []undoStateRecord
	if err := msgpack.Unmarshal(undoRaw, &records); err != nil {
		return fmt.Errorf("chainbase: load %s undo stack: %w (%v)", t.name, ErrStateCorrupt, err)
	}
	for _, rec := range records {
		st := newUndoState[Row](ID(rec.OldNextID), rec.Revision)
		for id, raw := range rec.OldValues {
			pre := new(Row)
			if err := msgpack.Unmarshal(raw, pre); err != nil {
				return fmt.Errorf("chainbase: load %s undo state %d: %w (%v)", t.name, rec.Revision, ErrStateCorrupt, err)
			}
			st.oldValues[ID(id)] = pre
		}
		for id, raw := range rec.RemovedValues {
			pre := new(Row)
			if err := msgpack.Unmarshal(raw, pre); err != nil {
				return fmt.Errorf("chainbase: load %s undo state %d: %w (%v)", t.name, rec.Revision, ErrStateCorrupt, err)
			}
			st.removedValues[ID(id)] = pre
		}
		for _, id := range rec.NewIDs {
			st.newIDs[ID(id)] = struct{}{}
		}
		t.stack = append(t.stack, st)
	}

	t.nextID = ID(meta.NextID)
	t.revision = meta.Revision
	return nil
}

func (db *Database) saveAll() error {
	return db.seg.Update(func(btx *bbolt.Tx) error {
		for _, t := range db.tableList {
			if err := t.save(btx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *Database) checkEnvironment() error {
	cur := currentEnvironment()
	if db.readOnly {
		return db.seg.View(func(btx *bbolt.Tx) error {
			b := btx.Bucket(envBucketName)
			if b == nil {
				return fmt.Errorf("chainbase: no environment record: %w", ErrEnvironmentMismatch)
			}
			stored := b.Get(envRecordKey)
			if !bytes.Equal(stored, cur) {
				return fmt.Errorf("chainbase: %w", ErrEnvironmentMismatch)
			}
			return nil
		})
	}
	return db.seg.Update(func(btx *bbolt.Tx) error {
		b, err := btx.CreateBucketIfNotExists(envBucketName)
		if err != nil {
			return err
		}
		stored := b.Get(envRecordKey)
		if stored == nil {
			return b.Put(envRecordKey, cur)
		}
		if !bytes.Equal(stored, cur) {
			return fmt.Errorf("chainbase: %w", ErrEnvironmentMismatch)
		}
		return nil
	})
}
