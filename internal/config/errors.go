package config

import "errors"

// ErrInvalidConfig is the sentinel behind every configuration validation
// failure; wrap it with fmt.Errorf("%w: ...") for the specific complaint.
var ErrInvalidConfig = errors.New("invalid config")
