package gitsecurity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gitresolve/internal/giturl"
)

type fakeChecker struct {
	exists map[string]bool
}

func (f *fakeChecker) RemoteExists(_ context.Context, repository string) bool {
	return f.exists[repository]
}

func TestSecure_IdentityForCommitSHA(t *testing.T) {
	t.Parallel()

	u := &giturl.GitUrl{Protocol: "git:", Repository: "git://example.com/x/y.git"}
	checker := &fakeChecker{}

	got, err := Secure(context.Background(), checker, u, "abc123", false)
	require.NoError(t, err)
	assert.Same(t, u, got)
}

func TestSecure_GitSchemeUpgradesToHTTPS(t *testing.T) {
	t.Parallel()

	u := &giturl.GitUrl{Protocol: "git:", Repository: "git://example.com/x/y.git"}
	checker := &fakeChecker{exists: map[string]bool{"https://example.com/x/y.git": true}}

	got, err := Secure(context.Background(), checker, u, "main", false)
	require.NoError(t, err)
	assert.Equal(t, "https:", got.Protocol)
	assert.Equal(t, "https://example.com/x/y.git", got.Repository)
}

func TestSecure_GitSchemeFailsWithoutHTTPSMirror(t *testing.T) {
	t.Parallel()

	u := &giturl.GitUrl{Protocol: "git:", Repository: "git://example.com/x/y.git"}
	checker := &fakeChecker{}

	_, err := Secure(context.Background(), checker, u, "main", false)
	require.Error(t, err)
	var secErr *Error
	require.ErrorAs(t, err, &secErr)
}

func TestSecure_HTTPPermitsPrivateMirrorWhenHTTPSUnavailable(t *testing.T) {
	t.Parallel()

	u := &giturl.GitUrl{Protocol: "http:", Repository: "http://internal.example.com/x/y.git"}
	checker := &fakeChecker{exists: map[string]bool{"http://internal.example.com/x/y.git": true}}

	got, err := Secure(context.Background(), checker, u, "main", false)
	require.NoError(t, err)
	assert.Equal(t, "http:", got.Protocol)
}

func TestSecure_HTTPFailsWhenNeitherExists(t *testing.T) {
	t.Parallel()

	u := &giturl.GitUrl{Protocol: "http:", Repository: "http://example.com/x/y.git"}
	checker := &fakeChecker{}

	_, err := Secure(context.Background(), checker, u, "main", false)
	require.Error(t, err)
}

func TestSecure_HTTPSRequiresExistence(t *testing.T) {
	t.Parallel()

	u := &giturl.GitUrl{Protocol: "https:", Repository: "https://example.com/x/y.git"}
	checker := &fakeChecker{}

	_, err := Secure(context.Background(), checker, u, "main", false)
	require.Error(t, err)

	checker.exists = map[string]bool{"https://example.com/x/y.git": true}
	got, err := Secure(context.Background(), checker, u, "main", false)
	require.NoError(t, err)
	assert.Equal(t, u.Repository, got.Repository)
}

func TestSecure_AllowInsecureBypassesPolicy(t *testing.T) {
	t.Parallel()

	u := &giturl.GitUrl{Protocol: "git:", Repository: "git://example.com/x/y.git"}
	checker := &fakeChecker{}

	got, err := Secure(context.Background(), checker, u, "main", true)
	require.NoError(t, err)
	assert.Same(t, u, got)
}

func TestSecure_SSHAndFileAreIdentity(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	for _, protocol := range []string{"ssh:", "file:"} {
		u := &giturl.GitUrl{Protocol: protocol, Repository: protocol + "//example.com/x/y.git"}
		got, err := Secure(context.Background(), checker, u, "main", false)
		require.NoError(t, err)
		assert.Same(t, u, got)
	}
}
