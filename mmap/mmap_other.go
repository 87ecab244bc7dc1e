//go:build !unix

package mmap

import (
	"io"
	"os"
)

// Fallback for platforms without a real mmap: a private buffer written
// back on flush. Loses the shared-view property but keeps the package
// portable.

func mapFile(f *os.File, size int, _ bool) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, int64(size)), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func unmapFile(_ []byte) error {
	return nil
}

func flushFile(f *os.File, b []byte, writable bool) error {
	if !writable {
		return nil
	}
	if _, err := f.WriteAt(b, 0); err != nil {
		return err
	}
	return f.Sync()
}
