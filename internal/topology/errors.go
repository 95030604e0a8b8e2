package topology

import "errors"

// Error variables for topology and sizing validation.
var (
	ErrUnknownEngine        = errors.New("unknown engine (must be twemcache or slimcache)")
	ErrUnknownBindMode      = errors.New("unknown bind mode (must be auto, nodes, cores or none)")
	ErrNoInstances          = errors.New("instance count must be at least 1")
	ErrPortRange            = errors.New("port out of range")
	ErrPortCollision        = errors.New("admin and server ports collide")
	ErrBindNodesWithoutPmem = errors.New("bind to nodes requires at least one pmem path")
	ErrThreadsPerSocket     = errors.New("threads per socket must be positive")
	ErrEmptyPmemPath        = errors.New("pmem path cannot be empty")
	ErrInvalidSizing        = errors.New("invalid sizing")
)
