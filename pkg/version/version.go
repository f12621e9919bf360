// Package version holds build metadata, overridable via ldflags.
package version

// Version is the Loupe release version.
var Version = "0.3.0"

// Commit is the git commit the binary was built from.
var Commit = "unknown"
