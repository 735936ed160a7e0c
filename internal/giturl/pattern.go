package giturl

import (
	"net/url"
	"regexp"
	"strings"
)

// scpLike matches "git+ssh://[user@]host:path" forms where the segment
// after the colon is not a numeric port — the ambiguous shape git
// dependency specifiers use for the classic scp syntax "user@host:path"
// with a (redundant, and strictly non-standard) "git+ssh://" prefix
// glued on front. When the segment after the colon IS numeric, the
// string is a normal ssh URL with an explicit port and must not be
// reinterpreted here.
var scpLike = regexp.MustCompile(`^git\+ssh://(?:([^@/]+)@)?([^:/]+):(.+)$`)

// shorthand matches the github "user/repo[#hash]" shorthand. The first
// segment may not start with a dot, hyphen, colon, at-sign, percent,
// slash, or whitespace; neither segment may contain a colon, at-sign,
// percent, slash, or whitespace, so the whole string contains exactly one
// slash.
var shorthand = regexp.MustCompile(`^[^:@%/\s.-][^:@%/\s]*/[^:@\s/%]+(?:#(.*))?$`)

// bareGitAt matches "git@host[:/]user/repo[#hash]".
var bareGitAt = regexp.MustCompile(`^git@([^:/]+)[:/]([^/]+)/([^/#]+?)(?:\.git)?(?:#(.*))?$`)

// hostedAlias matches "<provider>:user/repo[.git][#hash]".
var hostedAlias = regexp.MustCompile(`^(github|gitlab|bitbucket):([^/]+)/([^/#]+?)(?:\.git)?(?:#(.*))?$`)

var knownHostedHosts = map[string]bool{
	"github.com":    true,
	"gitlab.com":    true,
	"bitbucket.org": true,
	"bitbucket.com": true,
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// firstPathSegmentNumeric reports whether path starts with a run of
// digits terminated by '/' or end-of-string — i.e. it reads as a port
// number rather than a path component.
func firstPathSegmentNumeric(path string) bool {
	idx := strings.IndexByte(path, '/')
	seg := path
	if idx >= 0 {
		seg = path[:idx]
	}
	return isNumeric(seg) && seg != ""
}

// IsGitPattern reports whether s designates a git-hosted package, per the
// enumeration in order of precedence: scp-like, then github shorthand,
// then bare git@host, then hosted-provider alias, then URL-shaped forms.
func IsGitPattern(s string) bool {
	if m := scpLike.FindStringSubmatch(s); m != nil && !firstPathSegmentNumeric(m[3]) {
		return true
	}

	if shorthand.MatchString(s) {
		return true
	}

	if bareGitAt.MatchString(s) {
		return true
	}

	if hostedAlias.MatchString(s) {
		return true
	}

	u, err := url.Parse(stripGitPlusPrefix(s))
	if err != nil {
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	if strings.HasPrefix(strings.ToLower(s), "git+") || scheme == "git" || scheme == "ssh" {
		return true
	}

	if strings.HasSuffix(u.Path, ".git") {
		return true
	}

	if knownHostedHosts[strings.ToLower(u.Host)] {
		segments := nonEmptySegments(u.Path)
		if len(segments) == 2 {
			return true
		}
	}

	return false
}

func stripGitPlusPrefix(s string) string {
	if idx := strings.Index(s, "+"); idx >= 0 && strings.HasPrefix(s, "git+") {
		return s[idx+1:]
	}
	return s
}

func nonEmptySegments(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
