// Package version holds the release version of charimg.
package version

// Current is bumped on every release.
const Current = "1.0.0"
