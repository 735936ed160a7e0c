package gitsession

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gitresolve/internal/gitarchive"
	"github.com/stacklok/gitresolve/internal/gitproc"
	"github.com/stacklok/gitresolve/internal/gitsecurity"
	"github.com/stacklok/gitresolve/internal/gittest"
	"github.com/stacklok/gitresolve/internal/giturl"
	"github.com/stacklok/gitresolve/internal/lockqueue"
)

func newTestSession(t *testing.T, repoURL, protocol, version string) *Session {
	t.Helper()
	runner := gitproc.New(nil, 0)
	locks := lockqueue.New()
	prober := gitarchive.NewProber(runner)
	tempRoot := t.TempDir()

	u := &giturl.GitUrl{Protocol: protocol, Repository: repoURL}
	return New(runner, locks, prober, tempRoot, u, version, false)
}

func buildFixture(t *testing.T) *gittest.Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gittest.Build(dir, []gittest.Commit{
		{Files: map[string]string{"package.json": `{"name":"fixture","version":"1.0.0"}`}, Message: "initial"},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Tag("v1.0.0"))
	require.NoError(t, repo.Branch("main"))
	return repo
}

func TestInit_ResolvesTagToCommit(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "v1.0.0")

	hash, err := s.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, repo.CommitSHA(), hash)
	assert.Equal(t, "refs/tags/v1.0.0", s.Ref())
}

func TestInit_EmptyVersionResolvesDefaultBranch(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "")

	hash, err := s.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, repo.CommitSHA(), hash)
}

func TestInit_AllowInsecureTransportBypassesSecurityPolicy(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	runner := gitproc.New(nil, 0)
	locks := lockqueue.New()
	prober := gitarchive.NewProber(runner)

	// "git:" over a mutable version would normally be refused by
	// gitsecurity.Secure since there's no HTTPS mirror to upgrade to;
	// allowInsecure must skip that check entirely.
	u := &giturl.GitUrl{Protocol: "git:", Repository: repo.URL()}
	s := New(runner, locks, prober, t.TempDir(), u, "v1.0.0", true)

	hash, err := s.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, repo.CommitSHA(), hash)
}

func TestInit_WithoutAllowInsecureTransportRejectsGitScheme(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	runner := gitproc.New(nil, 0)
	locks := lockqueue.New()
	prober := gitarchive.NewProber(runner)

	u := &giturl.GitUrl{Protocol: "git:", Repository: repo.URL()}
	s := New(runner, locks, prober, t.TempDir(), u, "v1.0.0", false)

	_, err := s.Init(context.Background())
	require.Error(t, err)
	var secErr *gitsecurity.Error
	assert.True(t, errors.As(err, &secErr))
}

func TestInit_UnknownVersionIsNotFound(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "does-not-exist")

	_, err := s.Init(context.Background())
	require.Error(t, err)
}

func TestGetFile_ReadsFileAtResolvedCommit(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "v1.0.0")

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	content, found, err := s.GetFile(context.Background(), "package.json")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, content, "fixture")
}

func TestGetFile_AbsentFileReturnsFalse(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "v1.0.0")

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	_, found, err := s.GetFile(context.Background(), "does-not-exist.json")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClone_ExtractsReadOnlyTree(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "v1.0.0")

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	err = s.Clone(context.Background(), dest)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fixture")
}

func TestArchive_WritesTarAndReturnsSHA256Digest(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "v1.0.0")

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "archive.tar")
	digest, err := s.Archive(context.Background(), dest)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestFetch_IsIdempotent(t *testing.T) {
	t.Parallel()

	repo := buildFixture(t)
	s := newTestSession(t, repo.URL(), "file:", "v1.0.0")

	_, err := s.Init(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Fetch(context.Background()))
	require.NoError(t, s.Fetch(context.Background()))
}
