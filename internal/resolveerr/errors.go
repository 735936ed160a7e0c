// Package resolveerr defines the error taxonomy surfaced at the
// resolver's boundary. gitsecurity.Error fills the third role
// (security policy violations); it lives in its own package because
// it's raised purely from URL/protocol data, with no session context to
// decorate it with.
package resolveerr

import "fmt"

// NotFoundError means the specifier was well-formed and the remote
// reachable, but no ref, tag, branch, or commit matched the requested
// version.
type NotFoundError struct {
	Remote  string
	Version string
	Known   []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: version %q not found among refs %v", e.Remote, e.Version, e.Known)
}

// MessageError wraps a user-actionable failure that isn't a security
// refusal or a plain not-found: a malformed specifier, a subprocess
// failure whose stderr is meaningful to a human, or an unparsable
// registry manifest.
type MessageError struct {
	Message string
	Err     error
}

func (e *MessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *MessageError) Unwrap() error {
	return e.Err
}
