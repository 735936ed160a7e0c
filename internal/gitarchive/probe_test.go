package gitarchive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/gitresolve/internal/gitproc"
)

func TestNewProber_SeedsGitHubAsIncapable(t *testing.T) {
	t.Parallel()

	p := NewProber(gitproc.New(nil, 0))
	assert.False(t, p.cache["github.com"])
}

func TestHasArchiveCapability_OnlySSHIsEverProbed(t *testing.T) {
	t.Parallel()

	p := NewProber(gitproc.New(nil, 0))
	assert.False(t, p.HasArchiveCapability(context.Background(), "https:", "example.com", "https://example.com/x/y.git"))
	assert.False(t, p.HasArchiveCapability(context.Background(), "ssh:", "", "ssh://x/y.git"))
}

func TestHasArchiveCapability_UsesCachedValueWithoutProbing(t *testing.T) {
	t.Parallel()

	p := NewProber(gitproc.New(nil, 0))
	// github.com is seeded false, so the cached value is returned without
	// running git against the remote.
	got := p.HasArchiveCapability(context.Background(), "ssh:", "github.com", "ssh://git@github.com/x/y.git")
	assert.False(t, got)
}
