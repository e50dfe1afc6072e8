package config

import "errors"

// Sentinel errors; Load and Validate wrap them with the offending setting.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
