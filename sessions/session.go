package sessions

import (
	"github.com/jrsteele09/go-hradmin-client/token/jwt"
)

// State is the position of the session in its lifecycle.
type State int

const (
	NoSession State = iota
	Authenticated
	Refreshing
	LoggedOut
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Session is the presentation view of the stored tokens. User is decoded from
// the access token and is only advisory.
type Session struct {
	IsAuthenticated bool        // An access token is stored
	User            *jwt.Claims // Claims of the stored access token, nil when unreadable
	IsLoading       bool        // A login is in progress
}

// EventType identifies what a controller Event reports.
type EventType int

const (
	// EventStateChanged is sent after every transition.
	EventStateChanged EventType = iota
	// EventNavigateLogin asks the presentation layer to show the login screen.
	EventNavigateLogin
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventNavigateLogin:
		return "navigate_login"
	default:
		return "unknown"
	}
}

// Event is delivered to controller subscribers.
type Event struct {
	Type    EventType
	State   State
	Session Session
	Message string // User visible message, set on some forced logouts
	Err     error  // Cause of a forced logout
}
