// pkg/core/session.go
package core

// SessionState is the authentication state of a tracking session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionAuthenticating
	SessionAuthenticated
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionAuthenticating:
		return "authenticating"
	case SessionAuthenticated:
		return "authenticated"
	case SessionError:
		return "error"
	default:
		return "unknown"
	}
}

// User is the account a session is authenticated as.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
