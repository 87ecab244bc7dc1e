package chainbase

import "runtime"

// The environment sentinel pins a segment to the toolchain and OS that
// created it: a 256-byte zero-padded toolchain version string followed by
// three flag bytes (debug build, Apple, Windows). Reopening with a
// different sentinel refuses with ErrEnvironmentMismatch.
const envVersionLen = 256

func currentEnvironment() []byte {
	buf := make([]byte, envVersionLen+3)
	version := runtime.Version() + " " + runtime.Compiler
	copy(buf[:envVersionLen], version)
	if debugBuild {
		buf[envVersionLen] = 1
	}
	if runtime.GOOS == "darwin" {
		buf[envVersionLen+1] = 1
	}
	if runtime.GOOS == "windows" {
		buf[envVersionLen+2] = 1
	}
	return buf
}
