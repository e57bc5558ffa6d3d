// Package supervisor brings userspace services up in dependency order,
// supervises them, and restarts crashed services with bounded geometric
// backoff.
package supervisor

import (
	"github.com/splax-s/splax-os-sub001/internal/cap"
)

// RestartPolicy controls what happens when a supervised service crashes.
type RestartPolicy int

const (
	RestartNever RestartPolicy = iota
	RestartOnFailure
	RestartAlways
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartNever:
		return "never"
	case RestartOnFailure:
		return "on-failure"
	case RestartAlways:
		return "always"
	default:
		return "unknown"
	}
}

// State is a supervised service's runtime state. Failed marks a service
// whose boot spawn failed or that a required dependency's failure took
// down, whether or not it had been running.
type State int

const (
	StateStarting State = iota
	StateRunning
	StatePaused
	StateRestarting
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config declares one service: its identity, dependencies, the operation
// set minted onto its service capability, and its restart policy.
type Config struct {
	Name          string
	BinaryPath    string
	Dependencies  []string
	InitialOps    cap.OpSet
	MemoryLimit   uint64
	RestartPolicy RestartPolicy
	MaxRestarts   uint32
}

// Validate rejects configs the registry cannot host.
func (c Config) Validate() error {
	if c.Name == "" {
		return ErrInvalidConfig
	}
	for _, dep := range c.Dependencies {
		if dep == c.Name {
			return ErrInvalidConfig
		}
	}
	return nil
}
