// Package contextmgr projects role-specific, read-only slices from the
// shared session state. Each role sees only what it needs:
//
//	coordinator  full history, project overview
//	planner      last N history entries, file list, task state
//	implementer  planner/system history, content of the file it edits
//	verifier     implementer view plus recent implementer outputs
//	reviewer     everything, including the accumulated diff
//
// File contents are read through a FileCache keyed by content hash.
package contextmgr
