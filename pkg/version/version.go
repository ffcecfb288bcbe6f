// Package version holds the build-time version string for the judge worker.
package version

// Version is set via -ldflags at build time; "dev" otherwise.
var Version = "dev"
