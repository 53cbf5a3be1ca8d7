// internal/core/errors.go
package core

import "fmt"

// BusinessError is an expected business outcome with a stable,
// machine-readable code. It is returned, never panicked, and its code
// is what gateways and operators key on.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	// Device errors.
	ErrDeviceNotFound          = BusinessError{"DEVICE_NOT_FOUND", "device not found"}
	ErrDeviceAlreadyRegistered = BusinessError{"DEVICE_ALREADY_REGISTERED", "device is already registered"}
	ErrAuthenticationFailed    = BusinessError{"AUTHENTICATION_FAILED", "authentication failed"}

	// Query errors.
	ErrInvalidDateParameters = BusinessError{"INVALID_DATE_PARAMETERS", "provide either a date or a timestamp bound, not both"}

	// Fallback for unexpected persistence or logic faults. Internal
	// details are logged, never put on the wire.
	ErrInternal = BusinessError{"INTERNAL_SERVER_ERROR", "internal server error"}
)
