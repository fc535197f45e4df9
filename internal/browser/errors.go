// internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by page operations once the session has been released.
var ErrSessionClosed = errors.New("browser session is closed")

// ErrNoSession is returned when an operation needs a tab that was never opened.
var ErrNoSession = errors.New("browser session has not been started")

// Session construction stages, reported by SessionInitError.
const (
	StageLaunch   = "launch"
	StageNavigate = "navigate"
	StageSettle   = "settle"
)

// SessionInitError reports a failed session construction. When the tab was
// already open at the time of failure the error carries it, so a caller that
// only has the error can still inspect or screenshot the page.
type SessionInitError struct {
	Stage   string
	Err     error
	session *Session
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("browser session %s failed: %v", e.Stage, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// Page returns the partially initialized tab, or nil if none was opened.
func (e *SessionInitError) Page() Page {
	if e.session == nil {
		return nil
	}
	return e.session
}
