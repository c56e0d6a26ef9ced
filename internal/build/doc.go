// Package build runs the two-step project build: the server sources go
// through the configured compiler first, then the client entry points
// are bundled. The Pipeline enforces that ordering, applies the
// first-build-fatal policy, and keeps watch processes alive for
// incremental rebuilds during development.
package build
