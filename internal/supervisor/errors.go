package supervisor

import "errors"

var (
	ErrAlreadyRegistered = errors.New("supervisor: service already registered")
	ErrNotFound          = errors.New("supervisor: service not found")
	ErrBinaryNotFound    = errors.New("supervisor: service binary not found")
	ErrSpawnFailed       = errors.New("supervisor: failed to spawn service")
	ErrTooManyRestarts   = errors.New("supervisor: service exceeded max restarts")
	ErrInvalidConfig     = errors.New("supervisor: invalid service config")
	ErrDependencyCycle   = errors.New("supervisor: service dependency cycle")
	ErrUnknownDependency = errors.New("supervisor: service depends on an unknown service")
)
