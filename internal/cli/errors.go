package cli

import "errors"

var (
	ErrUnknownCommand       = errors.New("unknown command")
	ErrUnexpectedArgs       = errors.New("unexpected arguments")
	ErrTestsFailed          = errors.New("tests failed")
	ErrCleanupConflict      = errors.New("--path and --server-config are mutually exclusive")
	ErrUnknownCleanup       = errors.New("unknown cleanup mode (must be fixed or config)")
	ErrServerConfigRequired = errors.New("--cleanup config requires --server-config")
)
