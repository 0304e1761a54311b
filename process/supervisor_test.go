package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func selfPID() int {
	return os.Getpid()
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

// waitForDescendants polls the table until root has at least n descendants.
func waitForDescendants(t *testing.T, table Table, root, n int) []int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := table.Snapshot(context.Background())
		require.NoError(t, err)
		if d := snap.Descendants(root); len(d) >= n {
			return d
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process %d never had %d descendants", root, n)
	return nil
}

func TestSpawn_MissingExecutable(t *testing.T) {
	s := NewSupervisor(testLogger())

	h, err := s.Spawn(SpawnConfig{Command: "definitely-not-a-real-binary-xyz"})
	require.Nil(t, h)
	require.True(t, errors.Is(err, ErrSpawn), "got %v", err)
}

func TestSpawn_EmptyCommand(t *testing.T) {
	_, err := NewSupervisor(testLogger()).Spawn(SpawnConfig{})
	require.ErrorIs(t, err, ErrSpawn)
}

func TestSpawn_BadWorkingDir(t *testing.T) {
	requireUnix(t)
	_, err := NewSupervisor(testLogger()).Spawn(SpawnConfig{
		Command: "cat",
		Dir:     "/definitely/not/a/dir",
	})
	require.ErrorIs(t, err, ErrSpawn)
}

func TestSpawn_PipesAndEnv(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(testLogger())

	h, err := s.Spawn(SpawnConfig{
		Command: "sh",
		Args:    []string{"-c", `read line; echo "$line $BRIDGE_TEST_VAR"; echo oops >&2; read done; exit 0`},
		Dir:     t.TempDir(),
		Env:     []string{"BRIDGE_TEST_VAR=hello"},
	})
	require.NoError(t, err)
	require.True(t, h.PID() > 0)

	_, err = io.WriteString(h.Stdin, "ping\n")
	require.NoError(t, err)

	line, err := bufio.NewReader(h.Stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ping hello\n", line)

	errLine, err := bufio.NewReader(h.Stderr).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "oops\n", errLine)

	// EOF on stdin lets the child finish
	require.NoError(t, h.CloseStdin())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	require.False(t, h.Alive())
	require.NoError(t, h.ExitErr())
	require.NoError(t, h.CloseStdin(), "closing twice is fine")
}

func TestTerminate_Graceful(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(testLogger())

	h, err := s.Spawn(SpawnConfig{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)
	require.True(t, h.Alive())

	start := time.Now()
	s.Terminate(h, 5*time.Second)

	require.False(t, h.Alive())
	require.Less(t, time.Since(start), 4*time.Second, "SIGTERM should be enough for sleep")
}

func TestTerminate_ForceKillAfterGrace(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(testLogger())

	// Ignored signals survive exec, so the whole group shrugs off SIGTERM
	h, err := s.Spawn(SpawnConfig{
		Command: "sh",
		Args:    []string{"-c", `trap "" TERM; while true; do sleep 0.1; done`},
	})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	s.Terminate(h, 300*time.Millisecond)

	require.False(t, h.Alive())
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestTerminate_Idempotent(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(testLogger())

	h, err := s.Spawn(SpawnConfig{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	s.Terminate(h, time.Second)
	require.False(t, h.Alive())

	// Second call and nil handle are no-ops
	s.Terminate(h, time.Second)
	s.Terminate(nil, time.Second)
}

func TestTerminateTree_KillsDescendants(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection needs procfs")
	}
	s := NewSupervisor(testLogger())

	h, err := s.Spawn(SpawnConfig{
		Command: "sh",
		Args:    []string{"-c", "sleep 30 & sleep 31 & wait"},
	})
	require.NoError(t, err)

	kids := waitForDescendants(t, DefaultTable(), h.PID(), 2)

	s.TerminateTree(h.PID(), 2*time.Second)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("root process was not reaped")
	}
	for _, pid := range kids {
		require.False(t, Alive(pid), "descendant %d survived", pid)
	}
}

func TestTerminateTree_FallbackWithoutTable(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(testLogger(), WithTable(TableFunc(func(context.Context) (*Snapshot, error) {
		return nil, errors.New("no process table")
	})))

	h, err := s.Spawn(SpawnConfig{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	s.TerminateTree(h.PID(), time.Second)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived group fallback")
	}
}

func TestTerminateTree_InvalidPID(t *testing.T) {
	called := false
	s := NewSupervisor(testLogger(), WithTable(TableFunc(func(context.Context) (*Snapshot, error) {
		called = true
		return NewSnapshot(nil), nil
	})))

	s.TerminateTree(0, time.Second)
	s.TerminateTree(-5, time.Second)
	require.False(t, called)
}

func TestSweepOrphans_FindsByMarker(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection needs procfs")
	}
	marker := t.TempDir()
	s := NewSupervisor(testLogger())

	// Stands in for a browser left behind by an earlier run
	h, err := s.Spawn(SpawnConfig{
		Command: "sh",
		Args:    []string{"-c", "sleep 30; : " + marker},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(s.FindByMarker(context.Background(), marker)) > 0
	}, 5*time.Second, 20*time.Millisecond)

	swept := s.SweepOrphans(context.Background(), marker, time.Second)
	require.GreaterOrEqual(t, swept, 1)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("marked process survived the sweep")
	}
	require.Empty(t, s.FindByMarker(context.Background(), marker))
}
