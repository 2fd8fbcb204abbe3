package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrInvalidID  = errors.New("invalid message id")
	ErrNotFound   = errors.New("message not found")
)
