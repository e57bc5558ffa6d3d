package supervisor

import (
	"fmt"
	"sync"
	"time"
)

// ParallelStartGroups partitions configs into ordered groups: each group
// contains only services whose dependencies are all in earlier groups, so
// everything within one group can spawn concurrently. Unknown
// dependencies and cycles are rejected.
func ParallelStartGroups(configs []Config) ([][]string, error) {
	byName := make(map[string]Config, len(configs))
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate %s", ErrInvalidConfig, c.Name)
		}
		byName[c.Name] = c
	}
	for _, c := range configs {
		for _, dep := range c.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %s requires %s", ErrUnknownDependency, c.Name, dep)
			}
		}
	}

	started := make(map[string]bool, len(configs))
	remaining := make([]Config, len(configs))
	copy(remaining, configs)

	var groups [][]string
	for len(remaining) > 0 {
		var group []string
		var next []Config
		for _, c := range remaining {
			ready := true
			for _, dep := range c.Dependencies {
				if !started[dep] {
					ready = false
					break
				}
			}
			if ready {
				group = append(group, c.Name)
			} else {
				next = append(next, c)
			}
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: %d services unresolvable", ErrDependencyCycle, len(remaining))
		}
		for _, name := range group {
			started[name] = true
		}
		groups = append(groups, group)
		remaining = next
	}
	return groups, nil
}

// BootResult summarizes one BootAll run.
type BootResult struct {
	Started []string
	Failed  []string
}

// BootAll brings the static service set up in dependency order: services
// are partitioned into parallel start groups, each group is spawned
// concurrently, and the walk proceeds only once every member has reached
// Running, Stopped, or Failed. A service whose spawn fails (or whose
// dependency already failed) is marked Failed and cascades to its
// dependents.
//
// binaries maps service name to ELF bytes; a service absent from the map
// spawns as a kernel-thread placeholder if its config has no BinaryPath,
// and otherwise fails with ErrBinaryNotFound. readyTimeout bounds how long each
// group may take to report ready before its stragglers are marked Failed.
func (s *Supervisor) BootAll(configs []Config, binaries map[string][]byte, readyTimeout time.Duration) (BootResult, error) {
	groups, err := ParallelStartGroups(configs)
	if err != nil {
		return BootResult{}, err
	}
	byName := make(map[string]Config, len(configs))
	for _, c := range configs {
		byName[c.Name] = c
	}

	var result BootResult
	failed := make(map[string]bool)

	for _, group := range groups {
		var wg sync.WaitGroup
		var spawnMu sync.Mutex
		spawnErrs := make(map[string]error)

		for _, name := range group {
			if s.dependencyFailed(byName[name], failed) {
				failed[name] = true
				s.markRegisteredFailed(name)
				result.Failed = append(result.Failed, name)
				continue
			}

			wg.Add(1)
			go func(cfg Config) {
				defer wg.Done()
				if _, err := s.SpawnService(cfg, binaries[cfg.Name]); err != nil {
					spawnMu.Lock()
					spawnErrs[cfg.Name] = err
					spawnMu.Unlock()
				}
			}(byName[name])
		}
		wg.Wait()

		for _, name := range group {
			if failed[name] {
				continue
			}
			if err, bad := spawnErrs[name]; bad {
				failed[name] = true
				result.Failed = append(result.Failed, name)
				s.markRegisteredFailed(name)
				s.logger.Error().Err(err).Str("service", name).Msg("boot spawn failed")
				s.failDependents(name)
				continue
			}
			if s.waitRunning(name, readyTimeout) {
				result.Started = append(result.Started, name)
			} else {
				failed[name] = true
				result.Failed = append(result.Failed, name)
				s.logger.Error().Str("service", name).Msg("service did not become ready")
				s.failDependents(name)
			}
		}
	}

	s.logger.Info().
		Int("started", len(result.Started)).
		Int("failed", len(result.Failed)).
		Msg("boot sequence complete")
	return result, nil
}

func (s *Supervisor) dependencyFailed(cfg Config, failed map[string]bool) bool {
	for _, dep := range cfg.Dependencies {
		if failed[dep] {
			return true
		}
	}
	return false
}

// markRegisteredFailed marks a service Failed after its spawn failed or
// because a dependency went down first, adding a placeholder entry if it
// is not registered, so ListServices reflects it.
func (s *Supervisor) markRegisteredFailed(name string) {
	s.mu.Lock()
	if e, ok := s.services[name]; ok {
		e.state = StateFailed
	} else {
		s.services[name] = &entry{config: Config{Name: name}, state: StateFailed}
	}
	s.mu.Unlock()
	s.setStateGauge(name, StateFailed)
}

// waitRunning polls until name reaches Running, a terminal state, or the
// timeout elapses.
func (s *Supervisor) waitRunning(name string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		info, err := s.GetServiceInfo(name)
		if err == nil {
			switch info.State {
			case StateRunning:
				return true
			case StateStopped, StateFailed:
				return false
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}
