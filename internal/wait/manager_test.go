package wait

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/sched"
	"github.com/splax-s/splax-os-sub001/internal/signal"
)

func newTestManagers(t *testing.T) (*Manager, *signal.Manager, *sched.RoundRobin) {
	t.Helper()
	scheduler := sched.NewRoundRobin()
	signals := signal.NewManager(scheduler)
	waits := NewManager(scheduler, signals)
	return waits, signals, scheduler
}

func TestExitStatusEncoding(t *testing.T) {
	st := StatusFromExitCode(42)
	require.True(t, st.Exited())
	require.Equal(t, int32(42), st.ExitCode())
	require.False(t, st.Signaled())

	st = StatusFromSignal(9)
	require.True(t, st.Signaled())
	require.Equal(t, uint8(9), st.TermSignal())
	require.False(t, st.CoreDump())
	require.False(t, st.Exited())

	st = StatusFromSignalCore(11)
	require.True(t, st.Signaled())
	require.Equal(t, uint8(11), st.TermSignal())
	require.True(t, st.CoreDump())

	st = StatusStopped(19)
	require.True(t, st.Stopped())
	require.Equal(t, uint8(19), st.StopSignal())

	st = StatusContinued()
	require.True(t, st.Continued())
}

func TestChildBookkeeping(t *testing.T) {
	m, _, _ := newTestManagers(t)

	m.AddChild(1, 2)
	m.AddChild(1, 3)
	require.ElementsMatch(t, []coretypes.ProcessID{2, 3}, m.GetChildren(1))

	parent, ok := m.GetParent(3)
	require.True(t, ok)
	require.Equal(t, coretypes.ProcessID(1), parent)

	m.RemoveChild(1, 2)
	require.Equal(t, []coretypes.ProcessID{3}, m.GetChildren(1))
}

func TestDoExitSendsSIGCHLD(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)

	m.DoExit(2, 1, 7, ResourceUsage{})

	require.True(t, signals.HasPending(1))
	p, ok := signals.Dequeue(1)
	require.True(t, ok)
	require.Equal(t, signal.SIGCHLD, p.Signal)
	require.Equal(t, signal.CodeChildExited, p.Info.Code)
	require.Equal(t, coretypes.ProcessID(2), p.Info.SenderPID)
	require.Equal(t, uint64(7), p.Info.Value)
}

func TestDoSignalExitEncodesSignal(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)

	m.DoSignalExit(2, 1, 11, true, ResourceUsage{})

	z, err := m.Wait(1, ForPID(2), Options{NoHang: true})
	require.NoError(t, err)
	require.True(t, z.Status.Signaled())
	require.Equal(t, uint8(11), z.Status.TermSignal())
	require.True(t, z.Status.CoreDump())

	p, ok := signals.Dequeue(1)
	require.True(t, ok)
	require.Equal(t, signal.CodeChildKilled, p.Info.Code)
}

// A non-blocking wait with a live child returns WouldBlock, not
// NoChildren.
func TestWaitNoHangWithLiveChild(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)

	_, err := m.Wait(1, Any(), Options{NoHang: true})
	require.ErrorIs(t, err, ErrWouldBlock)

	m.DoExit(2, 1, 3, ResourceUsage{})

	z, err := m.Wait(1, Any(), Options{NoHang: true})
	require.NoError(t, err)
	require.Equal(t, coretypes.ProcessID(2), z.PID)
	require.Equal(t, int32(3), z.Status.ExitCode())
}

func TestWaitNoChildren(t *testing.T) {
	m, _, _ := newTestManagers(t)
	_, err := m.Wait(1, Any(), Options{NoHang: true})
	require.ErrorIs(t, err, ErrNoChildren)
}

// Every exit is reaped at most once; a second wait for the same pid
// returns ChildNotFound.
func TestWaitReapsOnce(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)
	m.AddChild(1, 3)
	m.DoExit(2, 1, 0, ResourceUsage{})

	z, err := m.Wait(1, ForPID(2), Options{NoHang: true})
	require.NoError(t, err)
	require.Equal(t, coretypes.ProcessID(2), z.PID)

	_, err = m.Wait(1, ForPID(2), Options{NoHang: true})
	require.ErrorIs(t, err, ErrChildNotFound)
}

func TestWaitNoWaitPeeksWithoutReaping(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)
	m.DoExit(2, 1, 5, ResourceUsage{})

	z, err := m.Wait(1, ForPID(2), Options{NoHang: true, NoWait: true})
	require.NoError(t, err)
	require.Equal(t, int32(5), z.Status.ExitCode())

	// The zombie is still there and its parent still lists the child.
	z, err = m.Wait(1, ForPID(2), Options{NoHang: true})
	require.NoError(t, err)
	require.Equal(t, coretypes.ProcessID(2), z.PID)
}

func TestWaitBlocksUntilChildExits(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)

	type result struct {
		z   ZombieInfo
		err error
	}
	done := make(chan result, 1)
	go func() {
		z, err := m.Wait(1, Any(), Options{})
		done <- result{z, err}
	}()

	select {
	case <-done:
		t.Fatal("wait returned before any child exited")
	case <-time.After(20 * time.Millisecond):
	}

	m.DoExit(2, 1, 9, ResourceUsage{})

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, coretypes.ProcessID(2), r.z.PID)
		require.Equal(t, int32(9), r.z.Status.ExitCode())
	case <-time.After(time.Second):
		t.Fatal("wait did not wake after child exit")
	}
}

// init(1) spawns parent(2); parent(2) spawns child(3); parent exits;
// child 3 belongs to init.
func TestOrphanReparenting(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	signals.InitProcess(2)
	signals.InitProcess(3)
	m.AddChild(1, 2)
	m.AddChild(2, 3)

	require.NoError(t, m.Exit(2, 0, ResourceUsage{}))

	parent, ok := m.GetParent(3)
	require.True(t, ok)
	require.Equal(t, coretypes.InitPID, parent)
	require.Contains(t, m.GetChildren(coretypes.InitPID), coretypes.ProcessID(3))
}

// Reparented zombies have their parent field rewritten too.
func TestReparentRewritesZombieParent(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	signals.InitProcess(2)
	m.AddChild(1, 2)
	m.AddChild(2, 3)
	m.DoExit(3, 2, 1, ResourceUsage{})

	m.ReparentChildren(2, coretypes.InitPID)

	z, err := m.Wait(coretypes.InitPID, ForPID(3), Options{NoHang: true})
	require.NoError(t, err)
	require.Equal(t, coretypes.InitPID, z.Parent)
}

func TestInitCannotExit(t *testing.T) {
	m, _, _ := newTestManagers(t)
	require.ErrorIs(t, m.Exit(coretypes.InitPID, 0, ResourceUsage{}), ErrCannotExit)
}

func TestExitCleansUpSignalState(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	signals.InitProcess(2)
	m.AddChild(1, 2)

	require.NoError(t, m.Exit(2, 0, ResourceUsage{}))
	require.ErrorIs(t, signals.Send(2, signal.SIGTERM, signal.Info{}), signal.ErrProcessNotFound)
}

func TestRusageCarriedThrough(t *testing.T) {
	m, signals, _ := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)

	ru := ResourceUsage{UTime: 1000, STime: 500, MaxRSS: 1 << 20, NVCSW: 3}
	m.DoExit(2, 1, 0, ru)

	z, err := m.Wait(1, Any(), Options{NoHang: true})
	require.NoError(t, err)
	require.Equal(t, ru, z.Rusage)
}

// A spurious wakeup re-polls with the caller's original options and
// blocks again, so flags like Untraced survive the retry.
func TestWaitRetryPreservesOriginalOptions(t *testing.T) {
	m, signals, scheduler := newTestManagers(t)
	signals.InitProcess(1)
	m.AddChild(1, 2)

	done := make(chan error, 1)
	go func() {
		_, err := m.Wait(1, Any(), Options{Untraced: true})
		done <- err
	}()

	registered := func() (waitRequest, bool) {
		m.waitersMu.Lock()
		defer m.waitersMu.Unlock()
		req, ok := m.waiters[1]
		return req, ok
	}

	require.Eventually(t, func() bool {
		req, ok := registered()
		return ok && req.options.Untraced
	}, time.Second, time.Millisecond)

	// Spurious wake: no child has exited. The waiter must re-register
	// with its original options intact.
	scheduler.Wake(1)
	require.Eventually(t, func() bool {
		req, ok := registered()
		return ok && req.options.Untraced && !req.options.NoHang
	}, time.Second, time.Millisecond)

	m.DoExit(2, 1, 0, ResourceUsage{})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait never completed after child exit")
	}
}
