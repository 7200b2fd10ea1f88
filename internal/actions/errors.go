package actions

import "errors"

// Error taxonomy for action outcomes. The scheduler only cares about three
// buckets: configuration problems (fail immediately, the rule is broken),
// transient delivery problems (retry with backoff), and permanent delivery
// problems (fail immediately, retrying cannot help).

type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient delivery error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent delivery error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Config(err error) error    { return &ConfigError{Err: err} }
func Transient(err error) error { return &TransientError{Err: err} }
func Permanent(err error) error { return &PermanentError{Err: err} }

func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
