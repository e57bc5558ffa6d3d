package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax-s/splax-os-sub001/internal/cap"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/linkrouter"
)

// fakeSpawner hands out monotone pids without a real process table.
type fakeSpawner struct {
	mu      sync.Mutex
	nextPID coretypes.ProcessID
	spawned []string
	fail    map[string]bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 2, fail: make(map[string]bool)}
}

func (f *fakeSpawner) spawn(name string) (coretypes.ProcessID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return 0, ErrSpawnFailed
	}
	pid := f.nextPID
	f.nextPID++
	f.spawned = append(f.spawned, name)
	return pid, nil
}

func (f *fakeSpawner) SpawnELF(name string, elfBytes []byte, argv, envp []string, rootCap cap.Token) (coretypes.ProcessID, error) {
	return f.spawn(name)
}

func (f *fakeSpawner) SpawnKernel(name string, entry uint64, rootCap cap.Token) (coretypes.ProcessID, error) {
	return f.spawn(name)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeSpawner) {
	t.Helper()
	spawner := newFakeSpawner()
	caps := cap.NewTable([]byte("supervisor-test-secret"))
	router := linkrouter.NewRouter()
	sup := New(spawner, caps, router, WithSleep(func(time.Duration) {}))
	return sup, spawner
}

func TestSpawnServiceRegistersAndMintsCapability(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	pid, err := sup.SpawnService(Config{Name: "storage", InitialOps: cap.OpRead | cap.OpWrite}, nil)
	require.NoError(t, err)
	require.NotZero(t, pid)

	info, err := sup.GetServiceInfo("storage")
	require.NoError(t, err)
	require.Equal(t, StateStarting, info.State)
	require.Equal(t, pid, info.PID)
	require.NotEmpty(t, info.InstanceID)
	require.NotZero(t, info.ChannelID)

	tok, err := sup.ServiceToken("storage")
	require.NoError(t, err)
	require.False(t, tok.IsNull())

	byPID, err := sup.GetServiceByPID(pid)
	require.NoError(t, err)
	require.Equal(t, "storage", byPID.Name)
}

func TestSpawnServiceRejectsDuplicates(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	_, err := sup.SpawnService(Config{Name: "net"}, nil)
	require.NoError(t, err)

	_, err = sup.SpawnService(Config{Name: "net"}, nil)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestSpawnServiceRejectsMissingBinary(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	_, err := sup.SpawnService(Config{Name: "gpu", BinaryPath: "/sbin/s-gpu"}, nil)
	require.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestServiceReadyTransitionsToRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	_, err := sup.SpawnService(Config{Name: "dev"}, nil)
	require.NoError(t, err)
	require.NoError(t, sup.ServiceReady("dev"))

	info, err := sup.GetServiceInfo("dev")
	require.NoError(t, err)
	require.Equal(t, StateRunning, info.State)

	require.ErrorIs(t, sup.ServiceReady("nope"), ErrNotFound)
}

// MaxRestarts = 2 means two restarts happen and the third crash leaves
// the service Stopped, failing its dependents.
func TestRestartCapAndDependentFailure(t *testing.T) {
	sup, spawner := newTestSupervisor(t)

	cfg := Config{Name: "net", RestartPolicy: RestartOnFailure, MaxRestarts: 2}
	_, err := sup.SpawnService(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, sup.ServiceReady("net"))

	_, err = sup.SpawnService(Config{Name: "gate", Dependencies: []string{"net"}}, nil)
	require.NoError(t, err)
	require.NoError(t, sup.ServiceReady("gate"))

	for crash := 0; crash < 2; crash++ {
		info, err := sup.GetServiceInfo("net")
		require.NoError(t, err)
		require.NoError(t, sup.ServiceCrashed(info.PID))

		info, err = sup.GetServiceInfo("net")
		require.NoError(t, err)
		require.Equal(t, StateStarting, info.State, "crash %d should respawn", crash+1)
		require.NoError(t, sup.ServiceReady("net"))
	}

	info, err := sup.GetServiceInfo("net")
	require.NoError(t, err)
	require.Equal(t, uint32(2), info.RestartCount)

	require.NoError(t, sup.ServiceCrashed(info.PID))

	info, err = sup.GetServiceInfo("net")
	require.NoError(t, err)
	require.Equal(t, StateStopped, info.State)

	gate, err := sup.GetServiceInfo("gate")
	require.NoError(t, err)
	require.Equal(t, StateFailed, gate.State)

	require.Equal(t, []string{"net", "gate", "net", "net"}, spawner.spawned)
}

func TestRestartNeverStaysStopped(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	_, err := sup.SpawnService(Config{Name: "pkg", RestartPolicy: RestartNever, MaxRestarts: 5}, nil)
	require.NoError(t, err)

	info, err := sup.GetServiceInfo("pkg")
	require.NoError(t, err)
	require.NoError(t, sup.ServiceCrashed(info.PID))

	info, err = sup.GetServiceInfo("pkg")
	require.NoError(t, err)
	require.Equal(t, StateStopped, info.State)
	require.Zero(t, info.RestartCount)
}

func TestRestartKeepsKernelChannelAndRotatesInstance(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	_, err := sup.SpawnService(Config{Name: "storage", RestartPolicy: RestartAlways, MaxRestarts: 3}, nil)
	require.NoError(t, err)
	before, err := sup.GetServiceInfo("storage")
	require.NoError(t, err)

	require.NoError(t, sup.ServiceCrashed(before.PID))

	after, err := sup.GetServiceInfo("storage")
	require.NoError(t, err)
	require.Equal(t, before.ChannelID, after.ChannelID)
	require.NotEqual(t, before.InstanceID, after.InstanceID)
	require.NotEqual(t, before.PID, after.PID)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	var delays []time.Duration
	spawner := newFakeSpawner()
	caps := cap.NewTable([]byte("supervisor-test-secret"))
	sup := New(spawner, caps, linkrouter.NewRouter(),
		WithSleep(func(d time.Duration) { delays = append(delays, d) }),
		WithBackoff(100*time.Millisecond, 400*time.Millisecond, time.Hour))

	_, err := sup.SpawnService(Config{Name: "net", RestartPolicy: RestartAlways, MaxRestarts: 10}, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		info, err := sup.GetServiceInfo("net")
		require.NoError(t, err)
		require.NoError(t, sup.ServiceCrashed(info.PID))
	}

	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}, delays)
}

func TestParallelStartGroups(t *testing.T) {
	configs := []Config{
		{Name: "storage"},
		{Name: "dev"},
		{Name: "gpu"},
		{Name: "canvas", Dependencies: []string{"gpu", "dev"}},
		{Name: "net", Dependencies: []string{"storage", "dev"}},
		{Name: "pkg", Dependencies: []string{"storage", "net"}},
		{Name: "gate", Dependencies: []string{"net"}},
		{Name: "atlas", Dependencies: []string{"canvas"}},
	}

	groups, err := ParallelStartGroups(configs)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	require.ElementsMatch(t, []string{"storage", "dev", "gpu"}, groups[0])
	require.ElementsMatch(t, []string{"canvas", "net"}, groups[1])
	require.ElementsMatch(t, []string{"pkg", "gate", "atlas"}, groups[2])
}

func TestParallelStartGroupsRejectsCyclesAndUnknownDeps(t *testing.T) {
	_, err := ParallelStartGroups([]Config{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"a"}},
	})
	require.ErrorIs(t, err, ErrDependencyCycle)

	_, err = ParallelStartGroups([]Config{
		{Name: "a", Dependencies: []string{"ghost"}},
	})
	require.ErrorIs(t, err, ErrUnknownDependency)
}

func TestBootAllStartsGroupsInOrder(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	configs := []Config{
		{Name: "storage"},
		{Name: "net", Dependencies: []string{"storage"}},
		{Name: "gate", Dependencies: []string{"net"}},
	}

	quit := make(chan struct{})
	defer close(quit)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
			for _, info := range sup.ListServices() {
				if info.State == StateStarting {
					_ = sup.ServiceReady(info.Name)
				}
			}
		}
	}()

	result, err := sup.BootAll(configs, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"storage", "net", "gate"}, result.Started)
	require.Empty(t, result.Failed)
}

// A failed spawn fails everything that transitively depends on it, even
// services that never name the root cause directly.
func TestBootAllCascadesTransitiveFailure(t *testing.T) {
	spawner := newFakeSpawner()
	spawner.fail["storage"] = true
	caps := cap.NewTable([]byte("supervisor-test-secret"))
	sup := New(spawner, caps, linkrouter.NewRouter(), WithSleep(func(time.Duration) {}))

	configs := []Config{
		{Name: "storage"},
		{Name: "net", Dependencies: []string{"storage"}},
		{Name: "gate", Dependencies: []string{"net"}},
	}

	result, err := sup.BootAll(configs, nil, 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, result.Started)
	require.ElementsMatch(t, []string{"storage", "net", "gate"}, result.Failed)

	gate, err := sup.GetServiceInfo("gate")
	require.NoError(t, err)
	require.Equal(t, StateFailed, gate.State)
}
