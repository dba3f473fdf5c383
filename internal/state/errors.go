package state

import "errors"

var (
	ErrInvalidUsername   = errors.New("invalid username format (3-20 alphanumeric chars)")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrUserNotFound      = errors.New("user not found")
)
