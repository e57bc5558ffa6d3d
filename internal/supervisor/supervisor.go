package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/splax-s/splax-os-sub001/internal/cap"
	"github.com/splax-s/splax-os-sub001/internal/corelog"
	"github.com/splax-s/splax-os-sub001/internal/coremetrics"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/linkrouter"
)

// Spawner is the slice of the process table the supervisor drives.
// Satisfied by *proc.Manager.
type Spawner interface {
	SpawnELF(name string, elfBytes []byte, argv, envp []string, rootCap cap.Token) (coretypes.ProcessID, error)
	SpawnKernel(name string, entry uint64, rootCap cap.Token) (coretypes.ProcessID, error)
}

const (
	defaultBackoffInitial = 100 * time.Millisecond
	defaultBackoffCap     = 10 * time.Second
	defaultBackoffReset   = 30 * time.Second
)

// entry is one supervised service's runtime record.
type entry struct {
	config       Config
	elf          []byte
	state        State
	pid          coretypes.ProcessID
	instanceID   string
	channelID    linkrouter.ChannelID
	capToken     cap.Token
	restartCount uint32
	backoff      time.Duration
	lastStart    time.Time
}

// Supervisor is the service registry plus restart machinery. One lock
// guards the registry; it is dropped before respawning a crashed service
// (the respawn calls back into the process, capability, and router
// layers).
type Supervisor struct {
	logger zerolog.Logger

	mu       sync.Mutex
	services map[string]*entry
	byPID    map[coretypes.ProcessID]string

	procs  Spawner
	caps   *cap.Table
	router *linkrouter.Router

	backoffInitial time.Duration
	backoffCap     time.Duration
	backoffReset   time.Duration
	sleep          func(time.Duration)

	nextResourceID uint64
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithBackoff overrides the restart backoff parameters: the initial
// delay, the doubling cap, and the stable-uptime interval after which the
// delay resets to initial.
func WithBackoff(initial, max, reset time.Duration) Option {
	return func(s *Supervisor) {
		s.backoffInitial = initial
		s.backoffCap = max
		s.backoffReset = reset
	}
}

// WithSleep replaces the restart-delay sleep, so tests can run crash
// storms without real time passing.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// New constructs a Supervisor over the given process spawner, capability
// table, and message router.
func New(procs Spawner, caps *cap.Table, router *linkrouter.Router, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:         corelog.WithComponent("supervisor"),
		services:       make(map[string]*entry),
		byPID:          make(map[coretypes.ProcessID]string),
		procs:          procs,
		caps:           caps,
		router:         router,
		backoffInitial: defaultBackoffInitial,
		backoffCap:     defaultBackoffCap,
		backoffReset:   defaultBackoffReset,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SpawnService creates the service process, allocates its kernel
// channel, mints its service capability, and records it as Starting. The
// service itself reports readiness via ServiceReady once its endpoints
// are registered.
func (s *Supervisor) SpawnService(config Config, elfBytes []byte) (coretypes.ProcessID, error) {
	if err := config.Validate(); err != nil {
		return 0, err
	}
	if config.BinaryPath != "" && len(elfBytes) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrBinaryNotFound, config.BinaryPath)
	}

	s.mu.Lock()
	if _, exists := s.services[config.Name]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRegistered, config.Name)
	}
	// Reserve the slot before dropping the lock so two concurrent spawns
	// of the same name cannot both proceed.
	e := &entry{config: config, elf: elfBytes, state: StateStarting}
	s.services[config.Name] = e
	s.mu.Unlock()

	pid, err := s.startProcess(e)
	if err != nil {
		s.mu.Lock()
		delete(s.services, config.Name)
		s.mu.Unlock()
		return 0, err
	}
	return pid, nil
}

// startProcess spawns the process, mints the capability, and wires the
// kernel channel for e, then publishes the updated runtime fields. Called
// without the registry lock held.
func (s *Supervisor) startProcess(e *entry) (coretypes.ProcessID, error) {
	var (
		pid coretypes.ProcessID
		err error
	)
	if len(e.elf) > 0 {
		pid, err = s.procs.SpawnELF(e.config.Name, e.elf, []string{e.config.Name}, nil, cap.Null)
	} else {
		pid, err = s.procs.SpawnKernel(e.config.Name, 0, cap.Null)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, e.config.Name, err)
	}

	var token cap.Token
	if s.caps != nil {
		s.mu.Lock()
		s.nextResourceID++
		resource := coretypes.ResourceID{Type: "service", ID: s.nextResourceID}
		s.mu.Unlock()

		ops := e.config.InitialOps
		if ops.IsEmpty() {
			ops = cap.OpRead.Union(cap.OpWrite)
		}
		token, err = s.caps.CreateRoot(pid, resource, ops)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: minting service capability: %v", ErrSpawnFailed, e.config.Name, err)
		}
	}

	var channelID linkrouter.ChannelID
	if s.router != nil {
		channelID, err = s.router.CreateChannel("kernel", e.config.Name)
		if err == linkrouter.ErrChannelExists {
			// Respawn of a crashed service: the kernel channel survives
			// across restarts.
			if ch, ferr := s.router.FindChannel("kernel", e.config.Name); ferr == nil {
				channelID = ch.ID()
			}
		} else if err != nil {
			return 0, fmt.Errorf("%w: %s: kernel channel: %v", ErrSpawnFailed, e.config.Name, err)
		}
	}

	instance := uuid.NewString()

	s.mu.Lock()
	e.pid = pid
	e.instanceID = instance
	e.capToken = token
	e.channelID = channelID
	e.state = StateStarting
	e.lastStart = time.Now()
	s.byPID[pid] = e.config.Name
	s.mu.Unlock()

	s.setStateGauge(e.config.Name, StateStarting)
	s.logger.Info().
		Str("service", e.config.Name).
		Uint64("pid", uint64(pid)).
		Str("instance", instance).
		Msg("service spawned")
	return pid, nil
}

// ServiceReady transitions a Starting service to Running. Services call
// this (over their kernel channel) once their endpoints are registered.
func (s *Supervisor) ServiceReady(name string) error {
	s.mu.Lock()
	e, ok := s.services[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.state = StateRunning
	e.lastStart = time.Now()
	s.mu.Unlock()

	s.setStateGauge(name, StateRunning)
	s.logger.Info().Str("service", name).Msg("service ready")
	return nil
}

// ServiceCrashed handles a crash observed for pid. If the restart budget
// and policy allow, the service is respawned after a geometric backoff
// delay; otherwise it stays Stopped and everything that transitively
// depends on it is marked Failed.
func (s *Supervisor) ServiceCrashed(pid coretypes.ProcessID) error {
	s.mu.Lock()
	name, ok := s.byPID[pid]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	e := s.services[name]
	delete(s.byPID, pid)
	e.state = StateStopped

	policy := e.config.RestartPolicy
	giveUp := policy == RestartNever || e.restartCount >= e.config.MaxRestarts
	var delay time.Duration
	if !giveUp {
		e.restartCount++
		if s.backoffReset > 0 && time.Since(e.lastStart) >= s.backoffReset {
			e.backoff = 0
		}
		if e.backoff == 0 {
			e.backoff = s.backoffInitial
		} else {
			e.backoff *= 2
			if e.backoff > s.backoffCap {
				e.backoff = s.backoffCap
			}
		}
		delay = e.backoff
		e.state = StateRestarting
	}
	restartCount := e.restartCount
	s.mu.Unlock()

	if giveUp {
		s.setStateGauge(name, StateStopped)
		s.logger.Warn().
			Str("service", name).
			Uint32("restarts", restartCount).
			Msg("service stopped, restart budget exhausted")
		s.failDependents(name)
		return nil
	}

	coremetrics.ServiceRestartsTotal.WithLabelValues(name).Inc()
	s.setStateGauge(name, StateRestarting)
	s.logger.Warn().
		Str("service", name).
		Uint32("restart", restartCount).
		Dur("backoff", delay).
		Msg("service crashed, restarting")

	s.sleep(delay)
	if _, err := s.startProcess(e); err != nil {
		s.mu.Lock()
		e.state = StateStopped
		s.mu.Unlock()
		s.setStateGauge(name, StateStopped)
		s.logger.Error().Err(err).Str("service", name).Msg("restart failed")
		s.failDependents(name)
		return err
	}
	return nil
}

// failDependents marks every service that (transitively) requires name as
// Failed.
func (s *Supervisor) failDependents(name string) {
	s.mu.Lock()
	failed := s.markDependentsFailedLocked(name)
	s.mu.Unlock()

	for _, dep := range failed {
		s.setStateGauge(dep, StateFailed)
		s.logger.Warn().
			Str("service", dep).
			Str("dependency", name).
			Msg("service failed, required dependency is down")
	}
}

func (s *Supervisor) markDependentsFailedLocked(name string) []string {
	var failed []string
	for depName, e := range s.services {
		if e.state == StateFailed {
			continue
		}
		for _, dep := range e.config.Dependencies {
			if dep == name {
				e.state = StateFailed
				failed = append(failed, depName)
				failed = append(failed, s.markDependentsFailedLocked(depName)...)
				break
			}
		}
	}
	return failed
}

// Info is the public view of a supervised service.
type Info struct {
	Name         string
	PID          coretypes.ProcessID
	InstanceID   string
	State        State
	RestartCount uint32
	ChannelID    linkrouter.ChannelID
}

func infoOf(e *entry) Info {
	return Info{
		Name:         e.config.Name,
		PID:          e.pid,
		InstanceID:   e.instanceID,
		State:        e.state,
		RestartCount: e.restartCount,
		ChannelID:    e.channelID,
	}
}

// ListServices returns every registered service's info.
func (s *Supervisor) ListServices() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.services))
	for _, e := range s.services {
		out = append(out, infoOf(e))
	}
	return out
}

// GetServiceInfo returns one service's info by name.
func (s *Supervisor) GetServiceInfo(name string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.services[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return infoOf(e), nil
}

// GetServiceByPID resolves a pid to its service info.
func (s *Supervisor) GetServiceByPID(pid coretypes.ProcessID) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.byPID[pid]
	if !ok {
		return Info{}, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	return infoOf(s.services[name]), nil
}

// ServiceToken returns the capability minted for a service; trusted boot
// code hands this to the service over its kernel channel.
func (s *Supervisor) ServiceToken(name string) (cap.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.services[name]
	if !ok {
		return cap.Null, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.capToken, nil
}

func (s *Supervisor) setStateGauge(name string, state State) {
	for _, st := range []State{StateStarting, StateRunning, StatePaused, StateRestarting, StateStopped, StateFailed} {
		v := 0.0
		if st == state {
			v = 1.0
		}
		coremetrics.ServiceStateGauge.WithLabelValues(name, st.String()).Set(v)
	}
}
