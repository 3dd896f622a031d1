// Package cleanup provides scoped, exactly-once release of native HDF5
// resources (type handles, dataspaces, datasets, variable-length string
// buffers).
//
// Every compound operation opens a [Scope], registers a release function
// for each native handle it acquires, and closes the scope on exit. The
// scope runs all registered releases in reverse registration order, so a
// handle derived from another (for example a member type obtained from
// its compound type) is always released before its parent.
//
// # Failure semantics
//
// A release failure never stops the remaining releases from running, and
// it never masks an error returned by the operation body. Release
// failures are logged and collected; they are surfaced through
// [Scope.Close] only when the operation itself succeeded.
//
// # Nested scopes
//
// A scope may open child scopes. A child that is still open when its
// parent closes is closed as part of the parent's close, before the
// parent's own releases run. This mirrors "open a handle here, hand
// ownership to the caller": the callee registers on a child scope and
// leaves it open, and the caller's scope picks it up.
//
// # Concurrency
//
// A [Registry] may be shared by goroutines operating on distinct scopes
// of the same file; its bookkeeping is mutex-guarded. A single scope must
// never be used from two goroutines at once.
package cleanup
