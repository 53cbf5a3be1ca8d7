// internal/core/status.go
package core

import "time"

// DefaultConnectionTimeout is how long after its last successful
// authentication a device still counts as connected.
const DefaultConnectionTimeout = 3 * time.Minute

// DeriveStatus computes a device's connection status from its identity
// state and the current time. It is pure: the cached Status column is
// only ever this function's output, and any caller can re-derive it.
//
//	unregistered                          -> unknown
//	registered, never authenticated       -> disconnected
//	authenticated within timeout          -> connected
//	otherwise                             -> disconnected
func DeriveStatus(isRegistered bool, lastAuthenticated *time.Time, now time.Time, timeout time.Duration) string {
	if !isRegistered {
		return StatusUnknown
	}
	if lastAuthenticated == nil {
		return StatusDisconnected
	}
	if now.Sub(*lastAuthenticated) <= timeout {
		return StatusConnected
	}
	return StatusDisconnected
}

// RefreshStatus recomputes and stores the cached status on the record.
// It does not persist; callers decide whether the write matters.
func RefreshStatus(d *Device, now time.Time, timeout time.Duration) {
	d.Status = DeriveStatus(d.IsRegistered, d.LastAuthenticated, now, timeout)
}
