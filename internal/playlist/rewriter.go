package playlist

import (
	"net/url"
	"strings"
)

// Rewriter turns segment and nested-playlist lines into proxy links of the
// form <proxyBase>/<endpoint>?url=<escaped absolute origin URL>.
type Rewriter struct {
	proxyBase string
	base      *url.URL
}

// NewRewriter takes the public base of the proxy, such as
// "https://proxy.example". An empty base yields host-relative links.
func NewRewriter(proxyBase string) *Rewriter {
	rw := &Rewriter{proxyBase: strings.TrimRight(proxyBase, "/")}
	if u, err := url.Parse(rw.proxyBase); err == nil && u.Host != "" {
		rw.base = u
	}
	return rw
}

// owns reports whether a proxy-shaped link already targets this proxy.
// Links without a host are resolved by the player against the proxied
// playlist URL, so they are ours.
func (rw *Rewriter) owns(u *url.URL) bool {
	if u.Host == "" {
		return u.Scheme == ""
	}
	if rw.base == nil || !strings.EqualFold(u.Host, rw.base.Host) {
		return false
	}
	if u.Scheme != "" && !strings.EqualFold(u.Scheme, rw.base.Scheme) {
		return false
	}
	p := strings.TrimSuffix(u.Path, "/")
	prefix := strings.TrimSuffix(rw.base.Path, "/") + "/"
	return p == prefix+PlaylistEndpoint || p == prefix+SegmentEndpoint
}

// Rewrite resolves every segment and playlist line against baseURL, the
// origin URL the playlist was fetched from. Comments, blank lines, links
// that already point at this proxy and unrecognised lines pass through.
// Links to another proxy are pointed at this one with the same target.
func (rw *Rewriter) Rewrite(body, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		base = nil
	}

	lines := Tokenize(body)
	var sb strings.Builder
	sb.Grow(len(body) + len(body)/2)

	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		text := line.Text
		switch line.Kind {
		case SegmentURI:
			text = rw.link(SegmentEndpoint, line, base)
		case PlaylistURI:
			text = rw.link(PlaylistEndpoint, line, base)
		case ProxiedURI:
			if !rw.owns(line.URI) {
				text = rw.repoint(line)
			}
		}
		sb.WriteString(text)
		if line.CR {
			sb.WriteByte('\r')
		}
	}
	return sb.String()
}

// Link builds the proxy URL for an absolute origin URL.
func (rw *Rewriter) Link(endpoint, target string) string {
	return rw.proxyBase + "/" + endpoint + "?url=" + url.QueryEscape(target)
}

func (rw *Rewriter) link(endpoint string, line Line, base *url.URL) string {
	trimmed := strings.TrimSpace(line.Text)
	// fragments are for the player, never sent upstream
	fragment := ""
	if i := strings.IndexByte(trimmed, '#'); i >= 0 {
		trimmed, fragment = trimmed[:i], trimmed[i:]
	}

	var target string
	switch {
	case line.URI.IsAbs():
		target = trimmed
	case base != nil:
		ref := *line.URI
		ref.Fragment, ref.RawFragment = "", ""
		target = base.ResolveReference(&ref).String()
	default:
		return line.Text
	}
	return rw.Link(endpoint, target) + fragment
}

// repoint swaps another proxy's host for ours, keeping its endpoint and
// target. Targets that are not absolute http(s) URLs are left alone.
func (rw *Rewriter) repoint(line Line) string {
	target, err := url.Parse(line.URI.Query().Get("url"))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return line.Text
	}
	fragment := ""
	if line.URI.Fragment != "" {
		fragment = "#" + line.URI.EscapedFragment()
	}
	return rw.Link(proxyEndpoint(line.URI.Path), target.String()) + fragment
}
