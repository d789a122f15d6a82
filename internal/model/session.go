// Package model contains the struct definitions shared across the client,
// the workflow controller and the mock backend.
package model

import "time"

// SessionStatus describes whether the current context holds a usable
// credential. "type X string" gives the status its own named type so it cannot
// be confused with arbitrary strings.
type SessionStatus string

const (
	SessionUnknown         SessionStatus = "unknown"
	SessionAuthenticated   SessionStatus = "authenticated"
	SessionUnauthenticated SessionStatus = "unauthenticated"
)

// SessionState is a snapshot of the session manager. It is returned by value
// so callers never share the manager's copy.
type SessionState struct {
	Status        SessionStatus `json:"status"`
	TokenPresent  bool          `json:"tokenPresent"`
	LastCheckedAt time.Time     `json:"lastCheckedAt"`
}

// Authenticated reports whether the snapshot allows authorized calls.
func (s SessionState) Authenticated() bool {
	return s.Status == SessionAuthenticated
}

// RedirectIntent is the path a user should land on after the login detour.
type RedirectIntent struct {
	TargetPath string `json:"targetPath"`
}
