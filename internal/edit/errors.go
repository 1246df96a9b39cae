package edit

import "errors"

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("job not found")
	ErrPersistence = errors.New("job store failure")
	ErrDispatch    = errors.New("job dispatch failed")
)
