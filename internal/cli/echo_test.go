package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipebridge/internal/store"
)

func runEchoCommand(t *testing.T, opts *RootOptions, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewEchoCommand(opts)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestEchoCommand(t *testing.T) {
	out, err := runEchoCommand(t, newTestRootOptions("text"), "a\nb\nc\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", out)
}

func TestEchoCommandUpper(t *testing.T) {
	out, err := runEchoCommand(t, newTestRootOptions("text"), "hello\nworld\n", "--transform", "upper")
	require.NoError(t, err)
	assert.Equal(t, "HELLO\nWORLD\n", out)
}

func TestEchoCommandEmptyInput(t *testing.T) {
	out, err := runEchoCommand(t, newTestRootOptions("text"), "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEchoCommandSubprocess(t *testing.T) {
	t.Setenv(childEnv, "1")

	out, err := runEchoCommand(t, newTestRootOptions("text"), "left\nright\n", "--subprocess", "--transform", "upper")
	require.NoError(t, err)
	assert.Equal(t, "LEFT\nRIGHT\n", out)
}

func TestEchoCommandUnknownTransform(t *testing.T) {
	_, err := runEchoCommand(t, newTestRootOptions("text"), "a\n", "--transform", "rot13")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transform "rot13"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEchoCommandJSON(t *testing.T) {
	out, err := runEchoCommand(t, newTestRootOptions("json"), "x\ny\n", "--transform", "upper")
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(out))
	var got []string
	for dec.More() {
		var resp struct {
			Status string   `json:"status"`
			Data   Delivery `json:"data"`
		}
		require.NoError(t, dec.Decode(&resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "upper", resp.Data.Worker)
		got = append(got, resp.Data.Text)
	}
	assert.Equal(t, []string{"X", "Y"}, got)
}

func TestEchoCommandJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	out, err := runEchoCommand(t, newTestRootOptions("text"), "one\ntwo\n", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	procs, err := st.ReadProcesses(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "echo", procs[0].Name)

	sends, err := st.ReadEvents(context.Background(), store.EventFilter{Type: "send"})
	require.NoError(t, err)
	assert.Len(t, sends, 2)

	delivers, err := st.ReadEvents(context.Background(), store.EventFilter{Type: "deliver"})
	require.NoError(t, err)
	require.Len(t, delivers, 2)
	assert.Equal(t, "one", delivers[0].Text)
	assert.Equal(t, "two", delivers[1].Text)
}

func TestEchoCommandJournalFromConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	opts := newTestRootOptions("text")
	opts.Config.Store.Path = dbPath

	_, err := runEchoCommand(t, opts, "z\n")
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	events, err := st.ReadEvents(context.Background(), store.EventFilter{Type: "deliver"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReadLines(t *testing.T) {
	src := readLines(strings.NewReader("a\n\nb"))
	var got []string
	for line := range src.lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "", "b"}, got)
	assert.NoError(t, src.Err())
}

func TestReadLinesTooLong(t *testing.T) {
	src := readLines(strings.NewReader("ok\n" + strings.Repeat("x", maxLineBytes+1) + "\nlost\n"))
	var got []string
	for line := range src.lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"ok"}, got)
	assert.ErrorIs(t, src.Err(), bufio.ErrTooLong)
}

func TestEchoCommandLineOverScannerDefault(t *testing.T) {
	long := strings.Repeat("x", bufio.MaxScanTokenSize+10)

	out, err := runEchoCommand(t, newTestRootOptions("text"), "a\n"+long+"\nb\n")
	require.NoError(t, err)
	assert.Equal(t, "a\n"+long+"\nb\n", out)
}

func TestEchoCommandLineTooLongFails(t *testing.T) {
	_, err := runEchoCommand(t, newTestRootOptions("text"), "a\n"+strings.Repeat("x", maxLineBytes+1)+"\nb\n")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}

func TestEchoDeadSubprocessFails(t *testing.T) {
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}

	opts := &EchoOptions{
		RootOptions: newTestRootOptions("text"),
		Transform:   "echo",
		Subprocess:  true,
		Executable:  falseBin,
	}
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("a\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	done := make(chan error, 1)
	go func() { done <- runEcho(opts, cmd) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "worker echo exited with 1 undelivered message(s)")
	case <-time.After(10 * time.Second):
		t.Fatal("echo did not return after its worker exited")
	}
}
