package giturl

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize converts a recognized git specifier into its canonical form.
// Callers should only invoke Normalize after IsGitPattern(s) returns true;
// Normalize itself re-derives which rule applies rather than trusting the
// caller, since the two must stay in lockstep.
func Normalize(s string) (*GitUrl, error) {
	if m := scpLike.FindStringSubmatch(s); m != nil && !firstPathSegmentNumeric(m[3]) {
		user, host, path := m[1], m[2], m[3]
		hash := ""
		if idx := strings.Index(path, "#"); idx >= 0 {
			path, hash = path[:idx], path[idx+1:]
		}
		repo := host + ":" + path
		if user != "" {
			repo = user + "@" + repo
		}
		return &GitUrl{Protocol: "ssh:", Hostname: host, Repository: repo, Hash: hash}, nil
	}

	if shorthand.MatchString(s) {
		return normalizeHostedAlias("github:" + s)
	}

	if m := bareGitAt.FindStringSubmatch(s); m != nil {
		host, user, repo, hash := m[1], m[2], m[3], m[4]
		repository := fmt.Sprintf("ssh://git@%s/%s/%s.git", host, user, repo)
		return &GitUrl{
			Protocol:   "ssh:",
			Hostname:   host,
			Repository: repository,
			Hash:       hash,
			HostedGit:  &HostedGit{User: user, Repo: repo, Hash: hash},
		}, nil
	}

	if hostedAlias.MatchString(s) {
		return normalizeHostedAlias(s)
	}

	return normalizeURL(s)
}

// normalizeHostedAlias handles "<provider>:user/repo[.git][#hash]",
// rebuilding it as "https://<defaultHost>/<user>/<repo>.git" per the
// design note choosing the HTTPS+hostedGit path as canonical over the
// legacy SSH-only normalization.
func normalizeHostedAlias(s string) (*GitUrl, error) {
	m := hostedAlias.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("giturl: %q is not a hosted-provider alias", s)
	}

	providerName, user, repo, hash := m[1], m[2], m[3], m[4]
	provider, ok := providerByName(providerName)
	if !ok {
		return nil, fmt.Errorf("giturl: unknown hosted provider %q", providerName)
	}

	repository := fmt.Sprintf("https://%s/%s/%s.git", provider.defaultHost, user, repo)

	return &GitUrl{
		Protocol:   "https:",
		Hostname:   provider.defaultHost,
		Repository: repository,
		Hash:       hash,
		HostedGit:  &HostedGit{User: user, Repo: repo, Hash: hash},
	}, nil
}

// normalizeURL handles the URL-shaped forms: strip a leading "git+",
// parse as a URL, and fill hostname/protocol from the parse, defaulting
// to "file:" when no scheme was present.
func normalizeURL(s string) (*GitUrl, error) {
	stripped := stripGitPlusPrefix(s)

	u, err := url.Parse(stripped)
	if err != nil {
		return nil, fmt.Errorf("giturl: parsing %q: %w", s, err)
	}

	protocol := strings.ToLower(u.Scheme)
	if protocol == "" {
		protocol = "file"
	}

	fragment := u.Fragment
	u.Fragment = ""

	gu := &GitUrl{
		Protocol:   protocol + ":",
		Hostname:   u.Hostname(),
		Repository: u.String(),
		Hash:       fragment,
	}

	if _, ok := providerByHost(strings.ToLower(gu.Hostname)); ok {
		segments := nonEmptySegments(u.Path)
		if len(segments) == 2 {
			user := segments[0]
			repo := strings.TrimSuffix(segments[1], ".git")
			gu.HostedGit = &HostedGit{User: user, Repo: repo, Hash: fragment}
		}
	}

	return gu, nil
}

// ExplodeHostedGitFragment recovers the {user, repo, hash} triple from a
// hosted-provider shorthand tail "user/repo[.git][#hash]". repo has any
// trailing ".git" stripped; hash is returned raw (un-escaped by the
// caller, which knows whether it needs URL-decoding for its purpose).
func ExplodeHostedGitFragment(tail string) (HostedGit, bool) {
	hash := ""
	body := tail
	if idx := strings.Index(tail, "#"); idx >= 0 {
		body = tail[:idx]
		hash = tail[idx+1:]
	}

	parts := strings.SplitN(body, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return HostedGit{}, false
	}

	return HostedGit{
		User: parts[0],
		Repo: strings.TrimSuffix(parts[1], ".git"),
		Hash: hash,
	}, true
}
