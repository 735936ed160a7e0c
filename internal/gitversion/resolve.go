// Package gitversion maps a user-supplied version token — a tag, branch,
// commit, ref path, semver range, or the default-branch wildcard — onto a
// concrete commit, given a table of refs advertised by the remote.
package gitversion

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/gitresolve/internal/gitrefs"
)

// Kind tags the outcome of a resolve attempt, avoiding the ambiguity of
// overloading a single "not found" sentinel value with "resolved" and
// "defer to the live remote's default branch".
type Kind int

const (
	// NotFound means no strategy matched version against refs.
	NotFound Kind = iota
	// Resolved means Result.SHA (and, if known, Result.Ref) is final.
	Resolved
	// DefaultBranch means the caller must consult the live remote's
	// symbolic HEAD to finish resolution.
	DefaultBranch
)

// Result is the outcome of Resolve.
type Result struct {
	Kind Kind
	SHA  string
	// Ref is the full ref name the SHA came from, or "" when the SHA was
	// resolved from a raw commit not known to belong to any listed ref.
	Ref string
}

// CommitResolver resolves an abbreviated or full commit reference against
// a specific remote by asking the local working copy (fetching it first
// if necessary), used when a commit-shaped version isn't already present
// verbatim in the ref table.
type CommitResolver interface {
	ResolveCommit(ctx context.Context, version string) (sha string, found bool, err error)
}

var commitShape = regexp.MustCompile(`^[0-9a-fA-F]{5,40}$`)

// Resolve applies the version-resolution strategies in order, returning
// the first match. An empty version resolves to DefaultBranch. If no
// strategy matches, Result.Kind is NotFound.
func Resolve(ctx context.Context, version string, refs gitrefs.Refs, commits CommitResolver) (Result, error) {
	if strings.TrimSpace(version) == "" {
		return Result{Kind: DefaultBranch}, nil
	}

	if commitShape.MatchString(version) {
		lower := strings.ToLower(version)
		if r, ok := matchCommitPrefix(lower, refs); ok {
			return r, nil
		}
		if commits != nil {
			sha, found, err := commits.ResolveCommit(ctx, lower)
			if err != nil {
				return Result{}, err
			}
			if found {
				return Result{Kind: Resolved, SHA: sha}, nil
			}
		}
	}

	if strings.HasPrefix(version, "refs/") {
		if sha, ok := refs[version]; ok {
			return Result{Kind: Resolved, SHA: sha, Ref: version}, nil
		}
	}

	if sha, ok := refs["refs/tags/"+version]; ok {
		return Result{Kind: Resolved, SHA: sha, Ref: "refs/tags/" + version}, nil
	}

	if sha, ok := refs["refs/heads/"+version]; ok {
		return Result{Kind: Resolved, SHA: sha, Ref: "refs/heads/" + version}, nil
	}

	if r, ok := matchSemverRange(version, refs, "refs/tags/"); ok {
		return r, nil
	}

	if r, ok := matchSemverRange(version, refs, "refs/heads/"); ok {
		return r, nil
	}

	if version == "*" {
		return Result{Kind: DefaultBranch}, nil
	}

	return Result{Kind: NotFound}, nil
}

func matchCommitPrefix(lower string, refs gitrefs.Refs) (Result, bool) {
	for ref, sha := range refs {
		if strings.HasPrefix(sha, lower) {
			return Result{Kind: Resolved, SHA: sha, Ref: ref}, true
		}
	}
	return Result{}, false
}

// matchSemverRange collects every ref under prefix whose tail is a valid
// loose-semver identifier, finds the subset satisfying the version range,
// and returns the highest-versioned match.
func matchSemverRange(rangeExpr string, refs gitrefs.Refs, prefix string) (Result, bool) {
	constraint, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return Result{}, false
	}

	type candidate struct {
		ref string
		sha string
		ver *semver.Version
	}

	var candidates []candidate
	for ref, sha := range refs {
		if !strings.HasPrefix(ref, prefix) {
			continue
		}
		tail := strings.TrimPrefix(ref, prefix)
		v, err := semver.NewVersion(tail)
		if err != nil {
			continue
		}
		if constraint.Check(v) {
			candidates = append(candidates, candidate{ref: ref, sha: sha, ver: v})
		}
	}

	if len(candidates) == 0 {
		return Result{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ver.GreaterThan(candidates[j].ver)
	})

	best := candidates[0]
	return Result{Kind: Resolved, SHA: best.sha, Ref: best.ref}, true
}
