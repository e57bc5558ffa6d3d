package signal

import "errors"

var (
	ErrInvalidSignal     = errors.New("signal: invalid signal number")
	ErrUncatchableSignal = errors.New("signal: SIGKILL and SIGSTOP cannot be caught or ignored")
	ErrProcessNotFound   = errors.New("signal: process not found")
	ErrPermissionDenied  = errors.New("signal: permission denied")
)
