// Package gitsession implements the stateful per-remote handle (C7):
// init, fetch-or-clone, ref lookup, archive/clone to a destination, and
// single-file reads. Fetches into the shared working copy are serialized
// against other sessions on the same remote via a lock queue.
package gitsession

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stacklok/gitresolve/internal/gitarchive"
	"github.com/stacklok/gitresolve/internal/gitproc"
	"github.com/stacklok/gitresolve/internal/gitrefs"
	"github.com/stacklok/gitresolve/internal/gitsecurity"
	"github.com/stacklok/gitresolve/internal/giturl"
	"github.com/stacklok/gitresolve/internal/gitversion"
	"github.com/stacklok/gitresolve/internal/lockqueue"
	"github.com/stacklok/gitresolve/internal/resolveerr"
)

const refusalSubstring = "did not match any files"

// Session is a stateful wrapper around one remote for the duration of
// one resolve call. The zero value is not usable; construct with New.
type Session struct {
	runner *gitproc.Runner
	locks  *lockqueue.Queue
	prober *gitarchive.Prober

	tempRoot string

	GitUrl  *giturl.GitUrl
	version string // user-supplied version token

	allowInsecure bool

	ref             string
	hash            string
	cwd             string
	supportsArchive bool
	fetched         bool
}

// New constructs a Session for gitUrl, resolving version against it.
// locks and prober are shared process-wide across sessions so their
// caches and per-repository serialization actually do something.
// allowInsecure disables the transport-security policy entirely (see
// gitsecurity.Secure); it must only ever be true in test environments.
func New(runner *gitproc.Runner, locks *lockqueue.Queue, prober *gitarchive.Prober, tempRoot string, gitUrl *giturl.GitUrl, version string, allowInsecure bool) *Session {
	return &Session{
		runner:        runner,
		locks:         locks,
		prober:        prober,
		tempRoot:      tempRoot,
		GitUrl:        gitUrl,
		version:       version,
		allowInsecure: allowInsecure,
		cwd:           workDir(tempRoot, gitUrl.Repository),
	}
}

// workDir is a deterministic function of repository so concurrent
// sessions against the same remote share one working copy.
func workDir(tempRoot, repository string) string {
	sum := sha256.Sum256([]byte(repository))
	return filepath.Join(tempRoot, "gitresolve-"+hex.EncodeToString(sum[:]))
}

// Hash returns the resolved 40-hex commit SHA. Valid only after Init
// returns successfully.
func (s *Session) Hash() string { return s.hash }

// Ref returns the full ref name the commit was resolved from, or "" if
// the commit was pinned directly or resolved as a default branch whose
// symbolic ref name wasn't reported.
func (s *Session) Ref() string { return s.ref }

// Init secures the URL, lists refs, resolves the version, probes
// archive capability, and eagerly fetches if server-side archive isn't
// available. It returns the resolved 40-hex commit SHA.
func (s *Session) Init(ctx context.Context) (string, error) {
	secured, err := gitsecurity.Secure(ctx, remoteChecker{s.runner}, s.GitUrl, s.version, s.allowInsecure)
	if err != nil {
		return "", err
	}
	s.GitUrl = secured

	refs, err := s.listRefs(ctx)
	if err != nil {
		return "", err
	}

	result, err := gitversion.Resolve(ctx, s.version, refs, commitResolver{s})
	if err != nil {
		return "", err
	}

	switch result.Kind {
	case gitversion.Resolved:
		s.hash = result.SHA
		s.ref = result.Ref
	case gitversion.DefaultBranch:
		ref, sha, err := s.resolveDefaultBranch(ctx)
		if err != nil {
			return "", err
		}
		s.hash = sha
		s.ref = ref
	case gitversion.NotFound:
		known := make([]string, 0, len(refs))
		for ref := range refs {
			known = append(known, ref)
		}
		return "", &resolveerr.NotFoundError{Remote: s.GitUrl.Repository, Version: s.version, Known: known}
	}

	if s.ref != "" {
		s.supportsArchive = s.prober.HasArchiveCapability(ctx, s.GitUrl.Protocol, s.GitUrl.Hostname, s.GitUrl.Repository)
	}

	if !s.supportsArchive {
		if err := s.Fetch(ctx); err != nil {
			return "", err
		}
	}

	return s.hash, nil
}

func (s *Session) listRefs(ctx context.Context) (gitrefs.Refs, error) {
	out, err := s.runner.Run(ctx, "", "ls-remote", "--tags", "--heads", s.GitUrl.Repository)
	if err != nil {
		return nil, &resolveerr.MessageError{Message: "failed to list refs for " + s.GitUrl.Repository, Err: err}
	}
	return gitrefs.Parse(out), nil
}

// resolveDefaultBranch asks the live remote for HEAD's symbolic target,
// falling back to a plain HEAD lookup (SHA only) on git versions that
// don't understand --symref.
func (s *Session) resolveDefaultBranch(ctx context.Context) (ref, sha string, err error) {
	out, err := s.runner.Run(ctx, "", "ls-remote", "--symref", s.GitUrl.Repository, "HEAD")
	if err == nil {
		return parseSymrefOutput(out)
	}

	out, err = s.runner.Run(ctx, "", "ls-remote", s.GitUrl.Repository, "HEAD")
	if err != nil {
		return "", "", &resolveerr.MessageError{Message: "failed to resolve default branch for " + s.GitUrl.Repository, Err: err}
	}

	fields := strings.Fields(firstLine(out))
	if len(fields) == 0 {
		return "", "", &resolveerr.MessageError{Message: "remote " + s.GitUrl.Repository + " returned no HEAD"}
	}
	return "", fields[0], nil
}

func parseSymrefOutput(out string) (ref, sha string, err error) {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 2 {
		return "", "", &resolveerr.MessageError{Message: "malformed ls-remote --symref output"}
	}

	firstFields := strings.Fields(lines[0])
	if len(firstFields) < 2 {
		return "", "", &resolveerr.MessageError{Message: "malformed ls-remote --symref output"}
	}
	ref = firstFields[1]

	secondFields := strings.Fields(lines[1])
	if len(secondFields) < 1 {
		return "", "", &resolveerr.MessageError{Message: "malformed ls-remote --symref output"}
	}
	sha = secondFields[0]

	return ref, sha, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Fetch runs under the lock queue keyed by the canonical repository URL:
// clone into cwd if it doesn't exist yet, otherwise pull. A second call
// after fetched is true is a no-op.
func (s *Session) Fetch(ctx context.Context) error {
	if s.fetched {
		return nil
	}

	return s.locks.Push(s.GitUrl.Repository, func() error {
		if s.fetched {
			return nil
		}

		if dirExists(s.cwd) {
			if _, err := s.runner.Run(ctx, s.cwd, "pull"); err != nil {
				return &resolveerr.MessageError{Message: "git pull failed in " + s.cwd, Err: err}
			}
		} else {
			if _, err := s.runner.Run(ctx, "", "clone", s.GitUrl.Repository, s.cwd); err != nil {
				return &resolveerr.MessageError{Message: "git clone failed for " + s.GitUrl.Repository, Err: err}
			}
		}

		s.fetched = true
		return nil
	})
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// GetFile returns the contents of name at the resolved commit, or
// (_, false, nil) when the file doesn't exist at that commit — a
// distinguished absence, not an error.
func (s *Session) GetFile(ctx context.Context, name string) (string, bool, error) {
	if s.supportsArchive {
		decoder := gitproc.NewSingleFileDecoder()
		arg := fmt.Sprintf("--remote=%s", s.GitUrl.Repository)
		err := s.runner.Stream(ctx, "", decoder, "archive", arg, s.ref, name)
		if err == nil {
			content := decoder.Content()
			if content == nil {
				return "", false, nil
			}
			return string(content), true, nil
		}

		var procErr *gitproc.ProcessError
		if errors.As(err, &procErr) && strings.Contains(procErr.Stderr, refusalSubstring) {
			return "", false, nil
		}
		return "", false, &resolveerr.MessageError{Message: "git archive failed for " + name, Err: err}
	}

	if err := s.Fetch(ctx); err != nil {
		return "", false, err
	}

	out, err := s.runner.Run(ctx, s.cwd, "show", s.hash+":"+name)
	if err != nil {
		return "", false, nil
	}
	return out, true, nil
}

// Archive writes a tar snapshot of the resolved commit to dest: it pipes
// the archive stream through a hashing sink into dest and returns the
// hex SHA-256 digest of the raw archive bytes.
func (s *Session) Archive(ctx context.Context, dest string) (string, error) {
	sink, err := gitproc.NewHashingSink(dest)
	if err != nil {
		return "", &resolveerr.MessageError{Message: "failed to open " + dest, Err: err}
	}

	if err := s.runArchive(ctx, sink); err != nil {
		return "", err
	}

	return sink.Digest(), nil
}

// Clone extracts the full tree of the resolved commit into dest, with
// directories at 0o555 and files at 0o444 since the content is an
// immutable cache entry addressed by commit.
func (s *Session) Clone(ctx context.Context, dest string) error {
	sink := gitproc.NewTarExtractor(dest)
	return s.runArchive(ctx, sink)
}

func (s *Session) runArchive(ctx context.Context, sink gitproc.Sink) error {
	if s.supportsArchive {
		arg := fmt.Sprintf("--remote=%s", s.GitUrl.Repository)
		if err := s.runner.Stream(ctx, "", sink, "archive", arg, s.ref); err != nil {
			return &resolveerr.MessageError{Message: "git archive --remote failed", Err: err}
		}
		return nil
	}

	if err := s.Fetch(ctx); err != nil {
		return err
	}

	if err := s.runner.Stream(ctx, s.cwd, sink, "archive", s.hash); err != nil {
		return &resolveerr.MessageError{Message: "git archive failed in " + s.cwd, Err: err}
	}
	return nil
}

// remoteChecker adapts Runner to gitsecurity.RemoteChecker.
type remoteChecker struct {
	runner *gitproc.Runner
}

func (c remoteChecker) RemoteExists(ctx context.Context, repository string) bool {
	_, err := c.runner.Run(ctx, "", "ls-remote", "-t", repository)
	return err == nil
}

// commitResolver adapts Session to gitversion.CommitResolver, resolving
// an abbreviated or full commit not already present in the ref table by
// fetching the remote (if not already fetched) and asking the local
// clone to expand it.
type commitResolver struct {
	s *Session
}

func (c commitResolver) ResolveCommit(ctx context.Context, version string) (string, bool, error) {
	if err := c.s.Fetch(ctx); err != nil {
		return "", false, err
	}

	out, err := c.s.runner.Run(ctx, c.s.cwd, "rev-list", "-n", "1", "--no-abbrev-commit", "--format=oneline", version)
	if err != nil {
		return "", false, nil
	}

	fields := strings.Fields(firstLine(out))
	if len(fields) == 0 {
		return "", false, nil
	}
	return fields[0], true, nil
}
