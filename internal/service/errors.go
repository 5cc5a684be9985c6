package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrMessageNotFound    = errors.New("conversation message not found")
	ErrAnalysisNotFound   = errors.New("analysis result not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobAlreadyDone     = errors.New("job already completed")
)
