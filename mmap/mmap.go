// Package mmap maps fixed-size files into memory. It backs the database's
// meta sidecar; the main segment has its own mapping machinery.
package mmap

import (
	"fmt"
	"os"
)

// File is a file mapped into memory in its entirety.
type File struct {
	f        *os.File
	data     []byte
	writable bool
}

// Open maps the file at path, creating or extending it to size bytes
// first when writable. A read-only file smaller than size is an error.
func Open(path string, size int, writable bool) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0666)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < int64(size) {
		if !writable {
			f.Close()
			return nil, fmt.Errorf("mmap: %s is %d bytes, need %d", path, st.Size(), size)
		}
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, err
		}
	}
	data, err := mapFile(f, size, writable)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, data: data, writable: writable}, nil
}

// Data returns the mapped bytes. Writing through it requires a writable
// mapping.
func (m *File) Data() []byte {
	return m.data
}

// Flush forces the OS to sync the mapping to disk.
func (m *File) Flush() error {
	if m.data == nil {
		return nil
	}
	return flushFile(m.f, m.data, m.writable)
}

// Close unmaps and closes the file. Safe to call twice.
func (m *File) Close() error {
	if m.data == nil {
		return nil
	}
	err := unmapFile(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
