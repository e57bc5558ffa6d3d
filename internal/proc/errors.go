package proc

import "errors"

var (
	ErrOutOfMemory      = errors.New("proc: out of memory")
	ErrInvalidELF       = errors.New("proc: invalid ELF image")
	ErrProcessNotFound  = errors.New("proc: process not found")
	ErrPermissionDenied = errors.New("proc: permission denied")
	ErrInvalidState     = errors.New("proc: invalid process state for this operation")
	ErrLimitReached     = errors.New("proc: process limit reached")
)
