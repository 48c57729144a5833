// Package version contains this library's version.
package version

// Version is the current version of this library. It is meant to be
// overridden at build time via -ldflags.
var Version = "v0.1.0"
