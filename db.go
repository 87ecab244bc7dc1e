package chainbase

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const (
	segmentFileName = "shared_memory.bin"
	metaFileName    = "shared_memory.meta"
)

// OpenFlags selects the access mode for Open.
type OpenFlags uint32

const (
	ReadOnly  OpenFlags = 0
	ReadWrite OpenFlags = 1
)

// Database owns the segment, the table registry, the reader-writer mutex
// manager and the lock retry budgets. One writable handle per data
// directory; a writable handle excludes all other handles on the same
// directory, in this process or another.
type Database struct {
	dir      string
	readOnly bool

	seg   *bbolt.DB
	meta  *metaFile
	flk   *fileLock
	locks *lockManager

	logf    func(format string, args ...any)
	verbose bool
	testing bool
	size    uint64

	tableMap     []abstractTable
	tableList    []abstractTable
	tablesByType map[reflect.Type]abstractTable

	readWaitMicro       uint64
	maxReadWaitRetries  uint32
	writeWaitMicro      uint64
	maxWriteWaitRetries uint32

	requireLocking bool
	unsafeRotation bool
	readLocks      atomic.Int32
	writeLocks     atomic.Int32

	undoSessions atomic.Int32
}

type Options struct {
	// Size is the segment size to create, or the size to grow an existing
	// segment's mapping to (write mode only). Zero picks a default.
	Size uint64

	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool

	// RequireLocking enables the runtime lock-discipline checks.
	RequireLocking bool

	// UnsafeLockRotation lets a starved strong write lock abandon its ring
	// slot for a fresh mutex. Stale readers are undefined on their next
	// access; every rotation is logged.
	UnsafeLockRotation bool

	// Lock retry budgets; zero picks the defaults. To block without a
	// timeout, set a knob to zero after Open via its setter.
	ReadWaitMicro       uint64
	MaxReadWaitRetries  uint32
	WriteWaitMicro      uint64
	MaxWriteWaitRetries uint32
}

// Open maps the database in dir, creating it in write mode if absent.
// The stored environment sentinel must match the running process
// byte-for-byte.
func Open(dir string, flags OpenFlags, opt Options) (*Database, error) {
	write := flags&ReadWrite != 0
	if st, err := os.Stat(dir); err != nil {
		if !write {
			return nil, fmt.Errorf("chainbase: database not found at %s: %w", dir, ErrNotFound)
		}
	} else if !st.IsDir() {
		return nil, fmt.Errorf("chainbase: %s is not a directory", dir)
	}
	if write {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, fmt.Errorf("chainbase: %w", err)
		}
	}

	size := opt.Size
	if size == 0 {
		if opt.IsTesting {
			size = 5 * 1024 * 1024
		} else {
			size = 1024 * 1024 * 1024
		}
	}

	db := &Database{
		dir:                 dir,
		readOnly:            !write,
		logf:                opt.Logf,
		verbose:             opt.Verbose,
		testing:             opt.IsTesting,
		size:                size,
		requireLocking:      opt.RequireLocking,
		unsafeRotation:      opt.UnsafeLockRotation,
		readWaitMicro:       defaultReadWaitMicro,
		maxReadWaitRetries:  defaultMaxReadWaitRetries,
		writeWaitMicro:      defaultWriteWaitMicro,
		maxWriteWaitRetries: defaultMaxWriteWaitRetries,
	}
	if db.logf == nil {
		db.logf = func(string, ...any) {}
	}
	if opt.ReadWaitMicro != 0 {
		db.readWaitMicro = opt.ReadWaitMicro
	}
	if opt.MaxReadWaitRetries != 0 {
		db.maxReadWaitRetries = opt.MaxReadWaitRetries
	}
	if opt.WriteWaitMicro != 0 {
		db.writeWaitMicro = opt.WriteWaitMicro
	}
	if opt.MaxWriteWaitRetries != 0 {
		db.maxWriteWaitRetries = opt.MaxWriteWaitRetries
	}

	if err := db.openSegment(); err != nil {
		return nil, err
	}
	if err := db.checkEnvironment(); err != nil {
		db.seg.Close()
		db.seg = nil
		return nil, err
	}

	meta, err := openMetaFile(filepath.Join(dir, metaFileName), write)
	if err != nil {
		db.seg.Close()
		db.seg = nil
		return nil, fmt.Errorf("chainbase: %w", err)
	}
	db.meta = meta

	if write {
		flk, err := acquireFileLock(filepath.Join(dir, metaFileName))
		if err != nil {
			db.meta.Close()
			db.seg.Close()
			db.seg, db.meta = nil, nil
			return nil, err
		}
		db.flk = flk
	}

	db.locks = newLockManager(db.meta.lockSlot())
	return db, nil
}

// openSegment maps shared_memory.bin via the store, honoring the
// requested size as the mapping size (growth happens in write mode only).
func (db *Database) openSegment() error {
	path := filepath.Join(db.dir, segmentFileName)

	growing := false
	if st, err := os.Stat(path); err == nil {
		if !db.readOnly && db.size > uint64(st.Size()) {
			growing = true
		}
	} else if db.readOnly {
		return fmt.Errorf("chainbase: database file not found at %s: %w", path, ErrNotFound)
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 2 * time.Second
	bopt.InitialMmapSize = int(db.size)
	bopt.ReadOnly = db.readOnly
	if db.testing {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	seg, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		switch {
		case errors.Is(err, bbolt.ErrTimeout):
			return fmt.Errorf("chainbase: %s: %w", path, ErrAlreadyLocked)
		case growing:
			return fmt.Errorf("chainbase: %s: %w (%v)", path, ErrGrowthRefused, err)
		default:
			return fmt.Errorf("chainbase: %s: %w", path, err)
		}
	}
	db.seg = seg
	return nil
}

// Flush writes every registered table's record into the segment and
// forces an OS sync. This is the durability boundary.
func (db *Database) Flush() error {
	if db.seg == nil {
		return nil
	}
	if !db.readOnly {
		if err := db.saveAll(); err != nil {
			return err
		}
		if err := db.seg.Sync(); err != nil {
			return fmt.Errorf("chainbase: sync: %w", err)
		}
	}
	return db.meta.Flush()
}

// Close flushes (in write mode), unmaps the segment and releases the
// writer file lock. The registry survives Close. On a closed handle
// AddTable and Resize fail with ErrInvalidState and Flush and Close do
// nothing; table operations still act on the in-memory rows, which are no
// longer saved.
func (db *Database) Close() error {
	if db.seg == nil {
		return nil
	}
	var errs []error
	if !db.readOnly {
		if err := db.saveAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := db.seg.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := db.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	if db.flk != nil {
		if err := db.flk.Close(); err != nil {
			errs = append(errs, err)
		}
		db.flk = nil
	}
	db.seg, db.meta = nil, nil
	return errors.Join(errs...)
}

// Wipe closes the database and deletes its files, clearing the registry.
func (db *Database) Wipe(dir string) error {
	if err := db.Close(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, segmentFileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chainbase: wipe: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, metaFileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chainbase: wipe: %w", err)
	}
	db.tableMap, db.tableList, db.tablesByType = nil, nil, nil
	return nil
}

// Resize saves all state, remaps the segment at the new size and
// re-attaches every registered table. Borrowed object references are
// invalidated. Refused while any undo session is active.
func (db *Database) Resize(newSize uint64) error {
	if db.seg == nil || db.readOnly {
		return fmt.Errorf("chainbase: resize: %w", ErrInvalidState)
	}
	if db.undoSessions.Load() != 0 {
		return fmt.Errorf("chainbase: cannot resize with active undo sessions: %w", ErrInvalidState)
	}
	if err := db.saveAll(); err != nil {
		return err
	}
	if err := db.seg.Close(); err != nil {
		return fmt.Errorf("chainbase: resize: %w", err)
	}
	db.seg = nil
	db.size = newSize
	if err := db.openSegment(); err != nil {
		return err
	}
	return db.seg.View(func(btx *bbolt.Tx) error {
		for _, t := range db.tableList {
			if err := t.load(btx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Size returns the segment file's current size in bytes.
func (db *Database) Size() int64 {
	st, err := os.Stat(filepath.Join(db.dir, segmentFileName))
	if err != nil {
		return 0
	}
	return st.Size()
}

// StartUndoSession opens a composite session spanning every registered
// table; it commits or rolls back all of them together. With
// enabled=false the session is inert.
func (db *Database) StartUndoSession(enabled bool) (*Session, error) {
	s := &Session{rev: -1}
	for _, t := range db.tableList {
		sub, err := t.startSession(enabled)
		if err != nil {
			for _, created := range s.subs {
				_ = created.Undo()
			}
			return nil, err
		}
		s.subs = append(s.subs, sub)
	}
	if len(s.subs) > 0 {
		s.rev = s.subs[0].Revision()
	}
	if enabled {
		db.undoSessions.Add(1)
		s.db = db
	}
	return s, nil
}

// Revision reports the current revision (the first registered table's),
// or -1 with no tables.
func (db *Database) Revision() int64 {
	if len(db.tableList) == 0 {
		return -1
	}
	return db.tableList[0].Revision()
}

// Undo rolls back the newest revision on every table.
func (db *Database) Undo() error {
	for _, t := range db.tableList {
		if err := t.Undo(); err != nil {
			return err
		}
	}
	return nil
}

// Squash merges the newest revision into its predecessor on every table.
func (db *Database) Squash() error {
	for _, t := range db.tableList {
		if err := t.Squash(); err != nil {
			return err
		}
	}
	return nil
}

// Commit discards all undo states at or below revision on every table.
func (db *Database) Commit(revision int64) {
	for _, t := range db.tableList {
		t.Commit(revision)
	}
}

// UndoAll unwinds every table's whole undo stack.
func (db *Database) UndoAll() error {
	for _, t := range db.tableList {
		if err := t.UndoAll(); err != nil {
			return err
		}
	}
	return nil
}

// SetRevision aligns every table with an externally tracked revision.
func (db *Database) SetRevision(revision int64) error {
	for _, t := range db.tableList {
		if err := t.SetRevision(revision); err != nil {
			return err
		}
	}
	return nil
}

// RemoveObject removes an object through the registry, addressed by the
// kind's 16-bit key rather than a statically known type.
func (db *Database) RemoveObject(typeKey uint16, id int64) error {
	if int(typeKey) >= len(db.tableMap) || db.tableMap[typeKey] == nil {
		return fmt.Errorf("chainbase: no table with type id %d: %w", typeKey, ErrNotFound)
	}
	return db.tableMap[typeKey].RemoveObject(id)
}

// Validate rechecks every registered table's stored footprints against
// the running binary.
func (db *Database) Validate() error {
	for _, t := range db.tableList {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) mirrorLockSlot(n uint32) {
	db.meta.setLockSlot(n)
	if err := db.meta.Flush(); err != nil {
		db.logf("chainbase: flushing meta: %v", err)
	}
}
