package bridge

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pipebridge/internal/host"
)

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRuntime(t *testing.T) (*host.Runtime, *logBuffer) {
	t.Helper()
	logs := &logBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rt, err := host.New(host.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, logs
}

// pump drives the host until cond holds.
func pump(t *testing.T, rt *host.Runtime, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		_, err := rt.RunOnce(20 * time.Millisecond)
		require.NoError(t, err)
	}
}

// waitDone fails the test if w has not exited within d.
func waitDone(t *testing.T, w *worker, d time.Duration) {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(d):
		t.Fatalf("worker %s did not exit within %s", w.proc.Name(), d)
	}
}

// collector records handler calls in order.
type collector struct {
	values []any
}

func (c *collector) handle(_ *host.Process, v any) {
	c.values = append(c.values, v)
}

func (c *collector) count() int { return len(c.values) }

// recordFilter wraps Dispatch to log the byte count of every filter call.
func recordFilter(sizes *[]int) host.Filter {
	return func(p *host.Process, data []byte) {
		*sizes = append(*sizes, len(data))
		Dispatch(p, data)
	}
}

func protocolPanic(t *testing.T, code ProtocolErrorCode, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a panic")
		pe, ok := r.(*ProtocolError)
		require.True(t, ok, "panic value should be *ProtocolError, got %T: %v", r, r)
		require.Equal(t, code, pe.Code)
	}()
	fn()
}
