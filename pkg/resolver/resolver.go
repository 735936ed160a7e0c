// Package resolver is the entry point consumed by the outer system
// (C8): recognize a dependency specifier as git-hosted, normalize it,
// drive a repository session to a resolved commit, and produce a
// decorated package manifest.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/stacklok/gitresolve/internal/config"
	"github.com/stacklok/gitresolve/internal/gitarchive"
	"github.com/stacklok/gitresolve/internal/gitproc"
	"github.com/stacklok/gitresolve/internal/gitsession"
	"github.com/stacklok/gitresolve/internal/giturl"
	"github.com/stacklok/gitresolve/internal/lockqueue"
	"github.com/stacklok/gitresolve/internal/resolveerr"
)

// Manifest is the outer-facing result: the registry file's own fields
// (or a synthesized minimal set) plus the provenance fields the
// resolver decorates every result with.
type Manifest map[string]interface{}

// Remote describes where a resolved manifest came from.
type Remote struct {
	Resolved  string `json:"resolved"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Hash      string `json:"hash"`
	Registry  string `json:"registry,omitempty"`
}

// Lockfile is the external collaborator consulted before any network
// activity: if specifier already has a recorded git-type entry, it is
// replayed unchanged rather than re-resolved.
type Lockfile interface {
	Lookup(specifier string) (entry Manifest, entryType string, ok bool)
}

// Resolver is the git-source resolver's entry point. The zero value is
// not usable; construct with New.
type Resolver struct {
	cfg    *config.Config
	runner *gitproc.Runner
	locks  *lockqueue.Queue
	prober *gitarchive.Prober
	logger *slog.Logger

	lockfile Lockfile
}

// New constructs a Resolver. lockfile may be nil, disabling lockfile
// replay. logger defaults to slog.Default() when nil.
func New(cfg *config.Config, lockfile Lockfile, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	runner := gitproc.New(logger, cfg.SubprocessTimeout)
	return &Resolver{
		cfg:      cfg,
		runner:   runner,
		locks:    lockqueue.New(),
		prober:   gitarchive.NewProber(runner),
		logger:   logger,
		lockfile: lockfile,
	}
}

// Resolve recognizes specifier as a git-hosted package, resolves its
// version to a commit, fetches the preferred (then fallback) registry
// manifest, and returns it decorated with provenance fields.
func (r *Resolver) Resolve(ctx context.Context, specifier string) (Manifest, error) {
	if r.lockfile != nil {
		if entry, entryType, ok := r.lockfile.Lookup(specifier); ok && entryType == "git" {
			return entry, nil
		}
	}

	if !giturl.IsGitPattern(specifier) {
		return nil, &resolveerr.MessageError{Message: fmt.Sprintf("%q is not a git specifier", specifier)}
	}

	gitURL, err := giturl.Normalize(specifier)
	if err != nil {
		return nil, &resolveerr.MessageError{Message: "failed to normalize specifier", Err: err}
	}

	gitURL = r.preferSSHWhenArchiveCapable(ctx, gitURL)

	sess := gitsession.New(r.runner, r.locks, r.prober, r.tempRoot(), gitURL, gitURL.Hash, r.cfg.AllowInsecureTransport)

	hash, err := sess.Init(ctx)
	if err != nil {
		return nil, err
	}

	r.logger.Info("resolved git specifier", "specifier", specifier, "repository", gitURL.Repository, "hash", hash)

	manifest, registry, err := r.fetchManifest(ctx, sess)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		manifest = r.synthesizeManifest(gitURL)
	}

	manifest["_uid"] = hash
	manifest["_remote"] = Remote{
		Resolved:  gitURL.Repository + "#" + hash,
		Type:      "git",
		Reference: gitURL.Repository,
		Hash:      hash,
		Registry:  registry,
	}

	return manifest, nil
}

// preferSSHWhenArchiveCapable is the HostedGit fast-path specialization:
// when the specifier resolved to a hosted provider, probe whether that
// provider's SSH remote supports server-side archive before init() ever
// runs. If so, delegate to the SSH form (skipping a full clone
// entirely); otherwise keep the canonical HTTPS form unchanged.
func (r *Resolver) preferSSHWhenArchiveCapable(ctx context.Context, gitURL *giturl.GitUrl) *giturl.GitUrl {
	if gitURL.HostedGit == nil {
		return gitURL
	}

	sshRepository := fmt.Sprintf("ssh://git@%s/%s/%s.git", gitURL.Hostname, gitURL.HostedGit.User, gitURL.HostedGit.Repo)
	if !r.prober.HasArchiveCapability(ctx, "ssh:", gitURL.Hostname, sshRepository) {
		return gitURL
	}

	return &giturl.GitUrl{
		Protocol:   "ssh:",
		Hostname:   gitURL.Hostname,
		Repository: sshRepository,
		Hash:       gitURL.Hash,
		HostedGit:  gitURL.HostedGit,
	}
}

// fetchManifest tries the preferred registry filename, then each
// fallback in order, returning the first one found and its filename.
func (r *Resolver) fetchManifest(ctx context.Context, sess *gitsession.Session) (Manifest, string, error) {
	candidates := append([]string{r.cfg.PreferredRegistry()}, r.cfg.FallbackRegistries()...)

	for _, name := range candidates {
		content, found, err := sess.GetFile(ctx, name)
		if err != nil {
			return nil, "", err
		}
		if !found {
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal([]byte(content), &manifest); err != nil {
			return nil, "", &resolveerr.MessageError{Message: "failed to parse " + name, Err: err}
		}
		return manifest, name, nil
	}

	return nil, "", nil
}

// synthesizeManifest builds a minimal manifest when no registry file
// was found at the resolved commit: name guessed from the URL's final
// path segment, version pinned to a sentinel since none is known.
func (r *Resolver) synthesizeManifest(gitURL *giturl.GitUrl) Manifest {
	return Manifest{
		"name":    guessName(gitURL),
		"version": "0.0.0",
	}
}

func guessName(gitURL *giturl.GitUrl) string {
	if gitURL.HostedGit != nil && gitURL.HostedGit.Repo != "" {
		return gitURL.HostedGit.Repo
	}

	segment := gitURL.Repository
	if idx := strings.LastIndexByte(segment, '/'); idx >= 0 {
		segment = segment[idx+1:]
	}
	segment = strings.TrimSuffix(segment, ".git")

	decoded, err := url.QueryUnescape(segment)
	if err != nil {
		return segment
	}
	return decoded
}

func (r *Resolver) tempRoot() string {
	if r.cfg.TempRoot != "" {
		return r.cfg.TempRoot
	}
	return os.TempDir()
}
