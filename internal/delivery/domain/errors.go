package delivery

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a missing job. Callers treat it as a no-op.
var ErrNotFound = errors.New("delivery: job not found")

// ConfigurationError reports missing or invalid settings, such as sender credentials.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration: %s", e.Component, e.Reason)
}

// TransientDeliveryError wraps network, timeout and 5xx failures of a channel.
type TransientDeliveryError struct {
	Channel string
	Err     error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("%s delivery: %v", e.Channel, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
