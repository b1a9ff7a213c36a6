// Package linknorm canonicalizes posting links to a stable identity key.
//
// A rule recognizes one source domain, pulls the numeric posting id out of
// the URL path and rebuilds https://<domain>/<path>/<id>. Tracking query
// parameters, fragments and slugs are dropped. Links that no rule recognizes
// pass through unchanged, so Normalize is idempotent for every input.
package linknorm

import (
	"net/url"
	"regexp"
	"strings"

	"jobinsight/discovery-service/internal/errors"
)

// Rule canonicalizes links for one source domain.
type Rule struct {
	Domain  string
	Pattern *regexp.Regexp // first capture group is the numeric id
	Path    string         // canonical path prefix, without slashes
}

// ParseRule compiles a rule and checks that its canonical output is matched
// by its own pattern; a rule that fails this check would break idempotence.
func ParseRule(domain, pattern, path string) (Rule, error) {
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "www."))
	if domain == "" {
		return Rule{}, errors.InvalidRequestf("link rule: empty domain")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, errors.Wrapf(err, "link rule for %s: bad pattern", domain)
	}
	if re.NumSubexp() < 1 {
		return Rule{}, errors.InvalidRequestf("link rule for %s: pattern needs a capture group", domain)
	}
	r := Rule{Domain: domain, Pattern: re, Path: strings.Trim(path, "/")}

	const probe = "4242"
	u, err := url.Parse(r.canonical(probe))
	if err != nil {
		return Rule{}, errors.Wrapf(err, "link rule for %s: bad domain", domain)
	}
	if m := re.FindStringSubmatch(u.Path); m == nil || m[1] != probe {
		return Rule{}, errors.InvalidRequestf("link rule for %s: canonical form %q does not match pattern %q",
			domain, r.canonical(probe), pattern)
	}
	return r, nil
}

func (r Rule) canonical(id string) string {
	if r.Path == "" {
		return "https://" + r.Domain + "/" + id
	}
	return "https://" + r.Domain + "/" + r.Path + "/" + id
}

func (r Rule) matchesHost(host string) bool {
	return host == r.Domain || strings.HasSuffix(host, "."+r.Domain)
}

// DefaultRules returns the rules for the two built-in sources.
func DefaultRules() []Rule {
	return []Rule{
		mustRule("jobvision.ir", `^/jobs/(\d+)`, "jobs"),
		mustRule("karbord.io", `^/jobs/detail/(\d+)`, "jobs/detail"),
	}
}

func mustRule(domain, pattern, path string) Rule {
	r, err := ParseRule(domain, pattern, path)
	if err != nil {
		panic(err)
	}
	return r
}

// Normalizer applies an ordered set of rules; the first matching rule wins.
type Normalizer struct {
	rules []Rule
}

// New returns a Normalizer over rules. With no rules it uses DefaultRules.
func New(rules ...Rule) *Normalizer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Normalizer{rules: rules}
}

// Normalize returns the canonical form of rawLink, or rawLink unchanged when
// no rule recognizes it.
func (n *Normalizer) Normalize(rawLink string) string {
	s := strings.TrimSpace(rawLink)
	if s == "" {
		return rawLink
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return rawLink
	}
	host := strings.ToLower(u.Hostname())

	for _, r := range n.rules {
		if !r.matchesHost(host) {
			continue
		}
		if m := r.Pattern.FindStringSubmatch(u.Path); m != nil {
			return r.canonical(m[1])
		}
	}
	return rawLink
}

var defaultNormalizer = New()

// Normalize canonicalizes rawLink with the default rules.
func Normalize(rawLink string) string { return defaultNormalizer.Normalize(rawLink) }
