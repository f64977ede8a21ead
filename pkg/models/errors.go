package models

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalid          = errors.New("invalid request")
	ErrSessionMismatch  = errors.New("execution does not belong to session")
	ErrAlreadyCompleted = errors.New("execution already completed")
)
