package process

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// A thread exit fires Pdeathsig, so a child spawned from a goroutine whose
// thread dies right afterwards must keep running.
func TestSpawn_SurvivesCallerThreadExit(t *testing.T) {
	s := NewSupervisor(testLogger())

	spawned := make(chan *Handle, 1)
	go func() {
		// Exiting while locked terminates this thread
		runtime.LockOSThread()
		h, err := s.Spawn(SpawnConfig{Command: "sleep", Args: []string{"30"}})
		if err != nil {
			spawned <- nil
			return
		}
		spawned <- h
	}()

	h := <-spawned
	require.NotNil(t, h, "spawn failed")
	t.Cleanup(func() { s.Terminate(h, time.Second) })

	select {
	case <-h.Done():
		t.Fatalf("child was killed when the spawning thread exited: %v", h.ExitErr())
	case <-time.After(300 * time.Millisecond):
	}
	require.True(t, h.Alive())
}
