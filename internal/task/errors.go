package task

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrIndexOutOfRange   = errors.New("task index out of range")
	ErrAlreadyTerminated = errors.New("task already settled")
)
