package batch

import "errors"

var (
	ErrBusy          = errors.New("server busy: too many batches in progress")
	ErrBatchNotFound = errors.New("batch not found")
	ErrTaskNotFound  = errors.New("task not found")
)
