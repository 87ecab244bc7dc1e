//go:build chainbasedebug

package chainbase

const debugBuild = true
