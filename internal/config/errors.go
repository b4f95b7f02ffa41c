package config

import "fmt"

// ConfigError reports invalid configuration. It is always fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "invalid configuration: " + msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Errorf builds a ConfigError for field with a formatted reason
func Errorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
