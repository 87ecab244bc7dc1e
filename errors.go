package chainbase

import "errors"

var (
	// ErrNotFound is returned by Get, GetBy and RemoveObject when no live
	// object matches the given key.
	ErrNotFound = errors.New("object not found")

	// ErrUniquenessViolation is returned when an insert or modify is
	// rejected by a unique index.
	ErrUniquenessViolation = errors.New("uniqueness constraint violated")

	// ErrStateCorrupt is returned when undo could not restore a prior
	// state, or when a stored record fails its integrity check. It should
	// be unreachable and must be treated as fatal.
	ErrStateCorrupt = errors.New("state corrupt")

	// ErrInvalidState is returned when an operation is not permitted in the
	// current state: SetRevision with a non-empty undo stack, writing
	// through a read-only handle, or resizing with active sessions.
	ErrInvalidState = errors.New("invalid state")

	// ErrDuplicateRegistration is returned by AddTable when the 16-bit
	// registry key is already taken.
	ErrDuplicateRegistration = errors.New("type id already registered")

	// ErrBinaryIncompatible is returned when a stored footprint does not
	// match the running binary.
	ErrBinaryIncompatible = errors.New("stored layout does not match running binary")

	// ErrEnvironmentMismatch is returned at open time when the stored
	// environment sentinel differs from the running process's sentinel.
	ErrEnvironmentMismatch = errors.New("database created by a different compiler, build, or operating system")

	// ErrGrowthRefused is returned when the OS refuses to grow the mapping
	// to the requested size.
	ErrGrowthRefused = errors.New("could not grow database file to requested size")

	// ErrAlreadyLocked is returned when another writer holds the advisory
	// file lock on the meta sidecar.
	ErrAlreadyLocked = errors.New("could not gain write access to the shared memory file")

	// ErrReadLockTimeout and ErrWriteLockTimeout are returned when a lock
	// acquisition exhausts its retry budget.
	ErrReadLockTimeout  = errors.New("unable to acquire read lock")
	ErrWriteLockTimeout = errors.New("unable to acquire write lock")

	// ErrLockDisciplineViolation is returned by the opt-in locking checks
	// when a mutating operation runs without a held write lock, or a read
	// operation on a read-only handle runs without a held read lock.
	ErrLockDisciplineViolation = errors.New("operation requires a held lock")
)
