package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/proc"
)

func TestWakeBeforeBlockIsNotLost(t *testing.T) {
	s := NewRoundRobin()

	s.Wake(2)

	done := make(chan struct{})
	go func() {
		s.Block(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Block did not consume the buffered wakeup")
	}
}

func TestBlockParksUntilWake(t *testing.T) {
	s := NewRoundRobin()

	done := make(chan struct{})
	go func() {
		s.Block(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Block returned without a Wake")
	case <-time.After(20 * time.Millisecond):
	}

	s.Wake(2)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake did not release the blocked goroutine")
	}
}

func TestTerminateReleasesBlockedProcess(t *testing.T) {
	s := NewRoundRobin()

	done := make(chan struct{})
	go func() {
		s.Block(3)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	s.Terminate(3)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Terminate did not release the blocked goroutine")
	}
}

func TestSwitchToTracksCurrent(t *testing.T) {
	s := NewRoundRobin()

	_, running := s.Current()
	require.False(t, running)

	var fromCtx proc.Context
	s.SwitchTo(0, 5, &fromCtx, proc.Context{PC: 0x1000})

	current, running := s.Current()
	require.True(t, running)
	require.Equal(t, coretypes.ProcessID(5), current)

	s.Terminate(5)
	_, running = s.Current()
	require.False(t, running)
}

func TestNextReadyDrainsWokenOrder(t *testing.T) {
	s := NewRoundRobin()

	s.Wake(4)
	s.Wake(7)

	pid, ok := s.NextReady()
	require.True(t, ok)
	require.Equal(t, coretypes.ProcessID(4), pid)

	pid, ok = s.NextReady()
	require.True(t, ok)
	require.Equal(t, coretypes.ProcessID(7), pid)

	_, ok = s.NextReady()
	require.False(t, ok)
}
