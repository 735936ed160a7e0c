// Package giturl recognizes dependency specifiers that designate a
// git-hosted package and normalizes them to a canonical remote URL.
package giturl

// HostedGit carries the user/repo/hash triple recovered from a hosted
// provider shorthand or alias, retained across normalization so callers
// can compute HTTPS mirrors or web URLs without re-parsing the specifier.
type HostedGit struct {
	User string
	Repo string
	Hash string
}

// GitUrl is the canonical, normalized form of a git remote.
type GitUrl struct {
	// Protocol includes its trailing colon: "ssh:", "https:", "git:",
	// "http:", or "file:".
	Protocol string
	// Hostname is empty when Protocol is "file:" and no host was given.
	Hostname string
	// Repository is the string handed verbatim to the git subprocess;
	// it never carries a "#hash" fragment, since the fragment names a
	// committish, not part of the remote address.
	Repository string
	// Hash is the raw fragment recovered from the specifier (the
	// committish the caller wants), or "" if none was given. Present
	// regardless of whether HostedGit was populated.
	Hash string
	// HostedGit is non-nil when the specifier was a hosted-provider
	// shorthand or alias.
	HostedGit *HostedGit
}

// hostedProvider describes one of the known hosted-git providers: its
// canonical alias name, its own default hostname, and any additional
// hostnames accepted as "this provider" when recognizing plain URLs.
type hostedProvider struct {
	name         string
	defaultHost  string
	recognized   []string
}

// providers is intentionally self-referential: each provider's recognized
// hostnames are its own, never another provider's. An earlier internal
// build of this table had gitlab's recognized hostnames pointing at
// github.com — almost certainly a copy-paste bug — which this table does
// not reproduce.
var providers = []hostedProvider{
	{name: "github", defaultHost: "github.com", recognized: []string{"github.com"}},
	{name: "gitlab", defaultHost: "gitlab.com", recognized: []string{"gitlab.com"}},
	{name: "bitbucket", defaultHost: "bitbucket.org", recognized: []string{"bitbucket.org", "bitbucket.com"}},
}

func providerByName(name string) (hostedProvider, bool) {
	for _, p := range providers {
		if p.name == name {
			return p, true
		}
	}
	return hostedProvider{}, false
}

// providerByHost returns the provider that recognizes host as one of its
// own, used by the "known hosted-git host" rule.
func providerByHost(host string) (hostedProvider, bool) {
	for _, p := range providers {
		for _, h := range p.recognized {
			if h == host {
				return p, true
			}
		}
	}
	return hostedProvider{}, false
}
