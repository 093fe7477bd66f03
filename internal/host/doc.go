// Package host implements the embedded host runtime that bridge workers talk to.
//
// The runtime stands in for a single-threaded, cooperative scripting host. It
// owns process handles, a payload table, a managed-object heap and an I/O
// multiplexer, and it never blocks on a worker.
//
// SINGLE GOROUTINE:
// Exactly one goroutine drives the runtime, either through Run or by calling
// RunOnce in a loop. Filters, observers and submitted tasks all execute on
// that goroutine. Other goroutines reach it only through Submit, which queues
// a task and writes a byte to the wake pipe.
//
// Readiness:
// Every pipe process exposes a non-blocking read descriptor. RunOnce polls
// those descriptors together with the wake pipe, reads whatever bytes are
// ready (up to the read chunk) and passes them to the process filter in one
// call. The runtime assigns no meaning to the bytes.
//
// Collection:
// Opaque values handed to the host live in the Heap as UserPtr objects. When
// the embedding drops a UserPtr it calls Release; Collect (run every
// GCInterval by Run) finalizes released objects that still own a payload.
package host
