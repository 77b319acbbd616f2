//go:build !windows

package security

// Non-Windows builds have no DPAPI; preferences marked secret are stored
// as-is so the agent still runs in development environments.
func Protect(data []byte) ([]byte, error)   { return append([]byte(nil), data...), nil }
func Unprotect(data []byte) ([]byte, error) { return append([]byte(nil), data...), nil }
