// pkg/connerr/connerr.go

package connerr

import (
	cerr "github.com/cockroachdb/errors"
)

// User errors are expected operational conditions (bad config, entity over
// max TLP, unsupported entity type) and must not increment the connector's
// error metrics or trip the circuit breaker. Everything else is a system
// error.

type userError struct {
	cause error
}

func (e *userError) Error() string { return e.cause.Error() }
func (e *userError) Unwrap() error { return e.cause }

// NewUserError marks err as an expected user/operational error.
func NewUserError(err error) error {
	if err == nil {
		return nil
	}
	return &userError{cause: err}
}

// NewUserErrorf creates a formatted expected user error.
func NewUserErrorf(format string, args ...interface{}) error {
	return &userError{cause: cerr.Newf(format, args...)}
}

// IsUserError reports whether err is an expected user error.
func IsUserError(err error) bool {
	var ue *userError
	return cerr.As(err, &ue)
}

// WrapConfigError wraps configuration failures with an actionable hint.
func WrapConfigError(err error) error {
	return NewUserError(cerr.WithHint(err, "check the CONNECTOR_*/OPENCTI_*/WAZUH_* environment variables"))
}
