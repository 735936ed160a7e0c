// Package gitsecurity enforces the transport policy: an unauthenticated
// fetch of mutable content (a branch or tag) must be integrity-protected
// by TLS, while a commit-pinned fetch is safe over any transport because
// the SHA itself authenticates the content.
package gitsecurity

import (
	"context"
	"fmt"
	"regexp"

	"github.com/stacklok/gitresolve/internal/giturl"
)

// Error reports a security-policy violation. It is always fatal: the
// caller must not proceed, and must not silently downgrade to a less
// secure transport.
type Error struct {
	Repository string
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("refusing to fetch %s: %s", e.Repository, e.Reason)
}

// RemoteChecker probes whether a remote exists over a given repository
// URL, used to decide whether an HTTPS mirror of an insecure remote is
// reachable before committing to it. In production this is backed by
// `git ls-remote -t <repo>`.
type RemoteChecker interface {
	RemoteExists(ctx context.Context, repository string) bool
}

var commitSHA = regexp.MustCompile(`^[0-9a-fA-F]{5,40}$`)

// looksLikeCommit reports whether version is shaped like a commit SHA
// (5 to 40 hex characters) — the threshold at which a fetch is
// self-authenticating regardless of transport.
func looksLikeCommit(version string) bool {
	return commitSHA.MatchString(version)
}

// Secure applies the transport policy to url given the user-supplied
// version token. It is the identity whenever version is a commit SHA,
// or whenever allowInsecure is set (a test-environment escape hatch;
// production callers must always pass false). Otherwise:
//   - "git:" is rewritten to "https:" if that remote exists, else it's a
//     security error.
//   - "http:" is upgraded to "https:" if that remote exists; otherwise the
//     original "http:" remote is permitted (to allow private mirrors)
//     only if it exists itself; otherwise a security error.
//   - "https:" is returned unchanged once its existence is confirmed.
//   - "ssh:" and "file:" are returned unchanged: both already provide
//     their own integrity guarantees (SSH host-key trust, or trusted
//     local filesystem access) independent of this policy.
func Secure(ctx context.Context, checker RemoteChecker, url *giturl.GitUrl, version string, allowInsecure bool) (*giturl.GitUrl, error) {
	if looksLikeCommit(version) || allowInsecure {
		return url, nil
	}

	switch url.Protocol {
	case "git:":
		upgraded := rewriteScheme(url, "https:")
		if checker.RemoteExists(ctx, upgraded.Repository) {
			return upgraded, nil
		}
		return nil, &Error{Repository: url.Repository, Reason: "refusing git:// without a commit pin"}

	case "http:":
		upgraded := rewriteScheme(url, "https:")
		if checker.RemoteExists(ctx, upgraded.Repository) {
			return upgraded, nil
		}
		if checker.RemoteExists(ctx, url.Repository) {
			return url, nil
		}
		return nil, &Error{Repository: url.Repository, Reason: "refusing http:// without a commit pin and no https mirror"}

	case "https:":
		if checker.RemoteExists(ctx, url.Repository) {
			return url, nil
		}
		return nil, &Error{Repository: url.Repository, Reason: "remote not reachable over https"}

	default:
		// ssh:, file:, or anything else already trusted by transport.
		return url, nil
	}
}

func rewriteScheme(u *giturl.GitUrl, scheme string) *giturl.GitUrl {
	copyURL := *u
	// repository strings produced by giturl.Normalize always begin with
	// the scheme the Protocol field reports, so a literal prefix swap is
	// sufficient here.
	copyURL.Repository = scheme + u.Repository[len(u.Protocol):]
	copyURL.Protocol = scheme
	return &copyURL
}
