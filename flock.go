package chainbase

import "os"

// fileLock is the writer's advisory lock on the meta sidecar. flock(2) is
// per open file description, so a second Open in the same process
// conflicts too.
type fileLock struct {
	f *os.File
}

func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

// Close releases the lock. Idempotent.
func (l *fileLock) Close() error {
	if l.f == nil {
		return nil
	}
	_ = flockUnlock(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}
