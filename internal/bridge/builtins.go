package bridge

import (
	"strings"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
)

// Echo starts a worker that returns every string unchanged.
func Echo(rt *host.Runtime, handler Handler, opts ...WorkerOption) (*host.Process, error) {
	return StartWorker(rt, handler, func(s string) string { return s }, opts...)
}

// DataEcho starts a worker that hands every opaque payload straight back.
func DataEcho(rt *host.Runtime, handler Handler, opts ...WorkerOption) (*host.Process, error) {
	return StartWorker(rt, handler, func(p *payload.Payload) *payload.Payload { return p }, opts...)
}

// Upper starts a worker that upper-cases every string.
func Upper(rt *host.Runtime, handler Handler, opts ...WorkerOption) (*host.Process, error) {
	return StartWorker(rt, handler, strings.ToUpper, opts...)
}
