package cap

import "errors"

var (
	ErrTokenNotFound       = errors.New("cap: token not found")
	ErrNotOwner            = errors.New("cap: caller is not the token's owner")
	ErrRevoked             = errors.New("cap: token has been revoked")
	ErrExpired             = errors.New("cap: token has expired")
	ErrOperationNotAllowed = errors.New("cap: operation not allowed by token")
	ErrTableFull           = errors.New("cap: capability table is full")
	ErrInvalidCapability   = errors.New("cap: invalid capability")
)
