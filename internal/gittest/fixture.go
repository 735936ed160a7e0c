// Package gittest builds throwaway local git repositories for tests,
// using go-git purely as a fixture-construction convenience. Production
// code never imports this package: it always shells out to the real
// `git` binary (see internal/gitproc), because the resolver's subprocess
// contract (environment sanitization, archive streaming, ls-remote
// parsing) must be exercised against the real thing.
package gittest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit describes one commit to add to a Repo fixture.
type Commit struct {
	Files   map[string]string
	Message string
}

// Repo is a fixture repository rooted at Dir, addressable as a
// file:// remote for exercising the resolver end-to-end without network
// access.
type Repo struct {
	Dir    string
	repo   *git.Repository
	commit plumbing.Hash
}

// URL returns the file:// remote URL git accepts for this fixture.
func (r *Repo) URL() string {
	return "file://" + r.Dir
}

// CommitSHA returns the hex SHA of the last commit built.
func (r *Repo) CommitSHA() string {
	return r.commit.String()
}

// Build initializes a repository at a fresh temp directory, applies each
// commit in order on the default branch, and returns the fixture. dir is
// the caller's t.TempDir() (or equivalent); the caller owns cleanup.
func Build(dir string, commits []Commit) (*Repo, error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init fixture repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get worktree: %w", err)
	}

	author := &object.Signature{Name: "Fixture", Email: "fixture@example.com"}

	var last plumbing.Hash
	for _, c := range commits {
		for name, content := range c.Files {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("mkdir for %s: %w", name, err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", name, err)
			}
			if _, err := wt.Add(name); err != nil {
				return nil, fmt.Errorf("add %s: %w", name, err)
			}
		}

		message := c.Message
		if message == "" {
			message = "fixture commit"
		}

		hash, err := wt.Commit(message, &git.CommitOptions{Author: author})
		if err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		last = hash
	}

	return &Repo{Dir: dir, repo: repo, commit: last}, nil
}

// Tag creates a lightweight tag at the fixture's current commit.
func (r *Repo) Tag(name string) error {
	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), r.commit)
	return r.repo.Storer.SetReference(ref)
}

// Branch creates a branch at the fixture's current commit.
func (r *Repo) Branch(name string) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), r.commit)
	return r.repo.Storer.SetReference(ref)
}
