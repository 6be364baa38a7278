package engine

import "errors"

var (
	ErrStopped  = errors.New("executor stopped")
	ErrStopping = errors.New("executor stopping")
)
