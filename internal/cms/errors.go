package cms

import "errors"

// Configuration errors.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrConfigValue        = errors.New("invalid config value")
	ErrPathEmpty          = errors.New("path cannot be empty")
)
