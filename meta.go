package chainbase

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/GolosChain/chainbase/mmap"
)

// The meta sidecar (shared_memory.meta) is a small fixed-size mapping
// beside the segment. It mirrors the lock manager's current ring slot so
// a restarted writer resumes where readers are parked, and it is the
// target of the writer's advisory file lock.
const (
	metaFileSize = 4096
	metaSlotOff  = 8
)

var metaMagic = []byte("chbmeta1")

type metaFile struct {
	m        *mmap.File
	writable bool
}

func openMetaFile(path string, writable bool) (*metaFile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		w, err := mmap.Open(path, metaFileSize, true)
		if err != nil {
			return nil, err
		}
		copy(w.Data(), metaMagic)
		if err := w.Flush(); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	m, err := mmap.Open(path, metaFileSize, writable)
	if err != nil {
		return nil, err
	}
	mf := &metaFile{m: m, writable: writable}
	if writable && !bytes.Equal(m.Data()[:len(metaMagic)], metaMagic) {
		copy(m.Data(), metaMagic)
		mf.setLockSlot(0)
	}
	return mf, nil
}

func (mf *metaFile) lockSlot() uint32 {
	return binary.BigEndian.Uint32(mf.m.Data()[metaSlotOff:])
}

func (mf *metaFile) setLockSlot(n uint32) {
	if mf.writable {
		binary.BigEndian.PutUint32(mf.m.Data()[metaSlotOff:], n)
	}
}

func (mf *metaFile) Flush() error {
	return mf.m.Flush()
}

func (mf *metaFile) Close() error {
	return mf.m.Close()
}
