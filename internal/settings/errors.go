package settings

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrInvalidSize        = errors.New("invalid size")
	ErrNegativeValue      = errors.New("value must not be negative")
)
