package service

import "errors"

// Error taxonomy shared by every engine. Callers test with errors.Is; the
// transport maps each sentinel to a status code.
var (
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrRemoteService = errors.New("remote service error")
	ErrRateLimited   = errors.New("rate limited")
)
