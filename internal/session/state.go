package session

import (
	"errors"

	"github.com/tdisawas0github/project-os/internal/apiclient"
)

// State is a snapshot of the session. Authenticated implies Token and User are
// set; Loading implies not Authenticated.
type State struct {
	User          *apiclient.User
	Token         string
	Authenticated bool
	Loading       bool
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		if u.LastLogin != nil {
			ll := *u.LastLogin
			u.LastLogin = &ll
		}
		s.User = &u
	}
	return s
}

func anonymous() State { return State{} }

func authenticated(token string, u apiclient.User) State {
	return State{User: &u, Token: token, Authenticated: true}
}

// ErrSignedOut is the cause attached to contexts from AuthContext when the
// session they were bound to ends.
var ErrSignedOut = errors.New("session: signed out")

const defaultLoginMessage = "login failed"

// LoginError is returned by Login. Error() is the backend's own explanation
// when it gave one.
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultLoginMessage
}

func (e *LoginError) Unwrap() error { return e.Err }
