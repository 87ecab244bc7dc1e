//go:build !unix

package chainbase

import "os"

// Without flock the segment still has the backing store's own exclusive
// file lock; the meta lock degrades to a no-op.

func flockExclusive(*os.File) error {
	return nil
}

func flockUnlock(*os.File) error {
	return nil
}
