package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splax-s/splax-os-sub001/internal/cap"
)

func TestSpawnKernelRecordsDescriptor(t *testing.T) {
	m := NewManager()
	pid, err := m.SpawnKernel("idle", 0x1000, cap.Null)
	require.NoError(t, err)

	snap, err := m.Get(pid)
	require.NoError(t, err)
	require.Equal(t, "idle", snap.Name)
	require.Equal(t, StateNew, snap.State)
	require.Equal(t, ClassKernel, snap.Class)
	require.Equal(t, uint64(0x1000), snap.CPUContext.PC)
	require.Len(t, snap.KernelStack, defaultKernelStackSize)
}

func TestSpawnUserAllocatesUserStackAtFixedTop(t *testing.T) {
	m := NewManager()
	as := NewAddressSpace()
	pid, err := m.SpawnUser("shell", 0x400000, as, cap.Null)
	require.NoError(t, err)

	snap, err := m.Get(pid)
	require.NoError(t, err)
	require.True(t, snap.HasUserStack)
	require.Equal(t, uint64(defaultUserStackTop), snap.CPUContext.SP)
}

func TestGetUnknownPIDFails(t *testing.T) {
	m := NewManager()
	_, err := m.Get(999)
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestSetGetBrk(t *testing.T) {
	m := NewManager()
	pid, _ := m.SpawnKernel("k", 0, cap.Null)

	brk, err := m.GetBrk(pid)
	require.NoError(t, err)
	require.Equal(t, uint64(0), brk)

	require.NoError(t, m.SetBrk(pid, 0x2000))
	brk, err = m.GetBrk(pid)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), brk)
}

func TestSetStateTransitions(t *testing.T) {
	m := NewManager()
	pid, _ := m.SpawnKernel("k", 0, cap.Null)
	require.NoError(t, m.SetState(pid, StateReady))

	snap, _ := m.Get(pid)
	require.Equal(t, StateReady, snap.State)
}

func TestTerminateMarksStateAndExitCode(t *testing.T) {
	m := NewManager()
	pid, _ := m.SpawnKernel("k", 0, cap.Null)

	require.NoError(t, m.Terminate(pid, 7))

	snap, err := m.Get(pid)
	require.NoError(t, err)
	require.Equal(t, StateTerminated, snap.State)
	require.True(t, snap.HasExitCode)
	require.Equal(t, int32(7), snap.ExitCode)
}

func TestAddChildRecordsParentage(t *testing.T) {
	m := NewManager()
	parent, _ := m.SpawnKernel("parent", 0, cap.Null)
	child, _ := m.SpawnKernel("child", 0, cap.Null)

	require.NoError(t, m.AddChild(parent, child))

	parentSnap, _ := m.Get(parent)
	require.Contains(t, parentSnap.Children, child)

	childSnap, _ := m.Get(child)
	require.True(t, childSnap.HasParent)
	require.Equal(t, parent, childSnap.Parent)
}
