package handler

import (
	"net/url"
	"strings"
)

// FixRedirectURL repairs links generated by the auth server. Local origins
// (localhost, 127.0.0.1) are replaced with baseURL's origin, repeated path
// segments such as /app/app/ collapse to one, and doubled slashes are
// removed. Only the leading bundle segment is deduplicated. The redirect_to parameter inside an action link gets the same
// treatment. Unparseable input is returned unchanged.
func FixRedirectURL(raw, baseURL string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		base = nil
	}

	if base != nil && isLocalHost(u.Hostname()) && !isLocalHost(base.Hostname()) {
		u.Scheme = base.Scheme
		u.Host = base.Host
	}
	u.Path = cleanPath(u.Path)
	u.RawPath = ""

	q := u.Query()
	if inner := q.Get("redirect_to"); inner != "" {
		q.Set("redirect_to", FixRedirectURL(inner, baseURL))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1"
}

// Front-end bundles whose prefix the auth server tends to repeat.
var bundlePrefixes = map[string]bool{"app": true, "blog": true}

// cleanPath removes empty segments and collapses a repeated leading bundle
// segment (/app/app/ to /app/), keeping a trailing slash. Deeper segments are
// left alone.
func cleanPath(p string) string {
	if p == "" {
		return p
	}
	trailing := strings.HasSuffix(p, "/")
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	for len(out) > 1 && out[0] == out[1] && bundlePrefixes[out[0]] {
		out = out[1:]
	}
	cleaned := "/" + strings.Join(out, "/")
	if trailing && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// redirectTarget sanitizes a client supplied redirect. Only paths and URLs on
// baseURL's host are allowed; anything else falls back to the app root.
func redirectTarget(requested, baseURL string) string {
	fallback := strings.TrimRight(baseURL, "/") + "/app/"
	if requested == "" {
		return fallback
	}
	if strings.HasPrefix(requested, "/") && !strings.HasPrefix(requested, "//") {
		return FixRedirectURL(strings.TrimRight(baseURL, "/")+requested, baseURL)
	}
	u, err := url.Parse(requested)
	base, berr := url.Parse(baseURL)
	if err != nil || berr != nil {
		return fallback
	}
	if u.Host == base.Host || isLocalHost(u.Hostname()) {
		return FixRedirectURL(requested, baseURL)
	}
	return fallback
}
