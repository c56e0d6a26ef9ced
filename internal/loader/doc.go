// Package loader loads the compiled server unit described by server.json.
//
// Load is pure with respect to the filesystem at call time: the manifest
// is re-read on every call and nothing is memoized, so two consecutive
// loads around a recompile always observe the newer output. Validation is
// split into two failure modes: the unit cannot be read at all (E110), or
// it reads fine but lacks the listen capability (E111).
package loader
