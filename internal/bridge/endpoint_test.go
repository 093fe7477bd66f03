package bridge

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
	"github.com/roach88/pipebridge/internal/sidechannel"
)

func TestAttach_OncePerProcess(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("one", Dispatch)
	require.NoError(t, err)

	ep, err := Attach(proc)
	require.NoError(t, err)
	assert.Same(t, proc, ep.Process())

	_, err = Attach(proc)
	assert.Error(t, err)

	require.NoError(t, rt.DeleteProcess(proc))
	other, err := rt.MakePipeProcess("two", Dispatch)
	require.NoError(t, err)
	require.NoError(t, rt.DeleteProcess(other))
	_, err = Attach(other)
	assert.ErrorIs(t, err, host.ErrProcessDeleted)
}

func TestReceiveFromHost_RoundTrip(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("rt", Dispatch)
	require.NoError(t, err)
	ep, err := Attach(proc)
	require.NoError(t, err)

	require.NoError(t, ep.SendToWorker(payload.Wrap("hello")))
	p, err := ep.ReceiveFromHost()
	require.NoError(t, err)
	assert.Equal(t, "hello", payload.Unpack[string](p))
	assert.Equal(t, 0, rt.Table().Len())
}

func TestReceiveFromHost_BlockedReceiverSeesClose(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("blocked", Dispatch)
	require.NoError(t, err)
	ep, err := Attach(proc)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := ep.ReceiveFromHost()
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ep.CloseStream())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionAborted)
		assert.True(t, IsConnectionAborted(err))
	case <-time.After(time.Second):
		t.Fatal("receiver still blocked after close")
	}
}

func TestReceiveFromHost_EOFIsAbort(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("eof", Dispatch)
	require.NoError(t, err)
	ep, err := Attach(proc)
	require.NoError(t, err)

	require.NoError(t, proc.CloseFD(host.WriteToSubprocess))
	_, err = ep.ReceiveFromHost()
	assert.ErrorIs(t, err, ErrConnectionAborted)

	ep.Detach()
	_, err = ep.ReceiveFromHost()
	assert.ErrorIs(t, err, ErrConnectionAborted)
}

func TestReceiveFromHost_UnknownHandlePanics(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("forged", Dispatch)
	require.NoError(t, err)
	ep, err := Attach(proc)
	require.NoError(t, err)

	require.NoError(t, writeFull(proc.FD(host.WriteToSubprocess), payload.EncodeWord(99)))
	protocolPanic(t, ErrCodeUnknownHandle, func() {
		_, _ = ep.ReceiveFromHost()
	})
}

func TestSendToHost_QueuesTokenBeforeSignal(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("signal", Dispatch)
	require.NoError(t, err)
	ep, err := Attach(proc)
	require.NoError(t, err)

	tx, rx := sidechannel.New()
	require.NoError(t, ep.SendToHost(tx, payload.Wrap("out")))
	assert.Equal(t, 1, rx.Len())

	buf := make([]byte, 4)
	n, err := readSome(proc.FD(host.ReadFromSubprocess), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("r"), buf[:n])

	tok, ok := rx.TryRecv()
	require.True(t, ok)
	h, err := payload.ParseToken(tok)
	require.NoError(t, err)
	p, ok := rt.Table().Claim(h)
	require.True(t, ok)
	assert.Equal(t, "out", payload.Unpack[string](p))
}

func TestSendToHost_ClosedChannelFinalizes(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("closed", Dispatch)
	require.NoError(t, err)
	ep, err := Attach(proc)
	require.NoError(t, err)

	tx, _ := sidechannel.New()
	tx.Close()

	var finalized atomic.Int32
	err = ep.SendToHost(tx, payload.WrapWithFinalizer(1, func(any) { finalized.Add(1) }))
	assert.ErrorIs(t, err, ErrConnectionAborted)
	assert.ErrorIs(t, err, sidechannel.ErrClosed)
	assert.Equal(t, int32(1), finalized.Load())
	assert.Equal(t, 0, rt.Table().Len())
}

func TestSendToWorker_DeletedProcessFinalizes(t *testing.T) {
	rt, _ := newTestRuntime(t)
	proc, err := rt.MakePipeProcess("gone", Dispatch)
	require.NoError(t, err)
	ep, err := Attach(proc)
	require.NoError(t, err)
	require.NoError(t, rt.DeleteProcess(proc))

	var finalized atomic.Int32
	err = ep.SendToWorker(payload.WrapWithFinalizer(1, func(any) { finalized.Add(1) }))
	assert.ErrorIs(t, err, host.ErrProcessDeleted)
	assert.Equal(t, int32(1), finalized.Load())

	assert.ErrorIs(t, ep.CloseStream(), host.ErrProcessDeleted)
	ep.Detach()
}

func TestProtocolError_Format(t *testing.T) {
	err := newProtocolError(ErrCodeMissingToken, "w", "no token")
	assert.Equal(t, "MISSING_TOKEN: no token (process=w)", err.Error())
	assert.Equal(t, "BAD_TOKEN: x", newProtocolError(ErrCodeBadToken, "", "x").Error())
	assert.True(t, IsProtocolError(err))
	assert.False(t, IsWrongTypeError(err))
	assert.False(t, IsProtocolError(ErrConnectionAborted))
}

func readSome(fd int, buf []byte) (int, error) {
	deadline := time.Now().Add(time.Second)
	for {
		n, err := readNonblocking(fd, buf)
		if n > 0 || err != nil || time.Now().After(deadline) {
			return n, err
		}
		time.Sleep(time.Millisecond)
	}
}
