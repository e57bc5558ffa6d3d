package wait

import "errors"

var (
	ErrNoChildren      = errors.New("wait: no children to wait for")
	ErrWouldBlock      = errors.New("wait: no child is ready")
	ErrInterrupted     = errors.New("wait: interrupted by signal")
	ErrInvalidArgument = errors.New("wait: invalid argument")
	ErrChildNotFound   = errors.New("wait: child not found")
	ErrCannotExit      = errors.New("wait: init cannot exit")
)
