package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrLeaseLost          = errors.New("lease no longer held")
	ErrAlreadyRunning     = errors.New("poller already running")
	ErrNotRunning         = errors.New("poller not running")
	ErrJobNotCancelable   = errors.New("job is not cancelable")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrUploadFailed       = errors.New("artifact upload failed")
	ErrRateLimited        = errors.New("too many submissions")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
