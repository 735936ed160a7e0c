// Package gitarchive decides whether a remote supports server-side
// `git archive`, which lets the session skip a full clone.
package gitarchive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/gitresolve/internal/gitproc"
)

// Prober answers hasArchiveCapability queries, caching the result per
// hostname for the life of the process. Unlike a naive memoization that
// only caches a confirmed hit, Prober caches both outcomes: an
// inconclusive probe (auth failure, network error, unknown git version)
// is just as reusable a "no" as a confirmed refusal, and re-probing it on
// every call was a measurable perf bug in an earlier version of this
// cache.
type Prober struct {
	runner *gitproc.Runner

	mu    sync.Mutex
	cache map[string]bool
}

// NewProber returns a Prober seeded with the one known-bad host: GitHub's
// git:// and ssh:// remotes refuse server-side archive outright.
func NewProber(runner *gitproc.Runner) *Prober {
	return &Prober{
		runner: runner,
		cache:  map[string]bool{"github.com": false},
	}
}

const refusalSubstring = "did not match any files"

// HasArchiveCapability reports whether repository (over protocol "ssh:",
// at hostname) supports `git archive --remote`. Only ssh: remotes with a
// known hostname are ever probed; any other protocol is unsupported by
// construction.
func (p *Prober) HasArchiveCapability(ctx context.Context, protocol, hostname, repository string) bool {
	if protocol != "ssh:" || hostname == "" {
		return false
	}

	p.mu.Lock()
	if cached, ok := p.cache[hostname]; ok {
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	capable := p.probe(ctx, repository)

	p.mu.Lock()
	p.cache[hostname] = capable
	p.mu.Unlock()

	return capable
}

// probe runs `git archive --remote=<repo> HEAD <nonce>` with a filename
// guaranteed not to exist in the tree. The command must fail; capability
// is inferred from the specific stderr substring a real git archive
// server emits for "no such path in tree", distinguishing it from auth or
// transport failures (which mean "no capability" but say nothing about
// whether archive itself is supported).
func (p *Prober) probe(ctx context.Context, repository string) bool {
	nonce := strconv.FormatInt(time.Now().UnixMilli(), 10)
	arg := fmt.Sprintf("--remote=%s", repository)

	_, err := p.runner.Run(ctx, "", "archive", arg, "HEAD", nonce)
	if err == nil {
		// A command that was supposed to fail (the path can't exist)
		// but didn't tells us nothing useful; treat as no capability.
		return false
	}

	var procErr *gitproc.ProcessError
	if !errors.As(err, &procErr) {
		return false
	}

	return strings.Contains(procErr.Stderr, refusalSubstring)
}
