package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRecordNotFound    = errors.New("delivery record not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidCode       = errors.New("invalid verification code")
)
