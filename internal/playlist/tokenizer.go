// Package playlist rewrites HLS playlists so that every segment and nested
// playlist is fetched back through the proxy.
package playlist

import (
	"net/url"
	"path"
	"strings"
)

// Endpoint names used in rewritten links.
const (
	PlaylistEndpoint = "m3u8-proxy"
	SegmentEndpoint  = "ts-proxy"
)

type LineKind int

const (
	Blank LineKind = iota
	Comment
	SegmentURI
	PlaylistURI
	// ProxiedURI has the shape of a proxy link: an endpoint path with a url
	// parameter. Whether it points at this proxy is up to the Rewriter.
	ProxiedURI
	Other
)

func (k LineKind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Comment:
		return "comment"
	case SegmentURI:
		return "segment"
	case PlaylistURI:
		return "playlist"
	case ProxiedURI:
		return "proxied"
	default:
		return "other"
	}
}

type Line struct {
	Kind LineKind
	// Text is the line as read, minus the line terminator.
	Text string
	// CR is set when the line ended in \r\n.
	CR  bool
	URI *url.URL
}

// Tokenize splits body into typed lines. Joining the Text fields with the
// original terminators reproduces body exactly.
func Tokenize(body string) []Line {
	raw := strings.Split(body, "\n")
	lines := make([]Line, 0, len(raw))
	for _, text := range raw {
		line := Line{Text: text}
		if strings.HasSuffix(text, "\r") {
			line.Text = strings.TrimSuffix(text, "\r")
			line.CR = true
		}
		line.Kind, line.URI = classify(line.Text)
		lines = append(lines, line)
	}
	return lines
}

func classify(text string) (LineKind, *url.URL) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Blank, nil
	}
	if strings.HasPrefix(trimmed, "#") {
		return Comment, nil
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return Other, nil
	}
	if isProxyLink(u) {
		return ProxiedURI, u
	}

	switch strings.ToLower(path.Ext(u.Path)) {
	case ".ts":
		return SegmentURI, u
	case ".m3u8":
		return PlaylistURI, u
	}
	return Other, nil
}

func isProxyLink(u *url.URL) bool {
	if u.Query().Get("url") == "" {
		return false
	}
	return proxyEndpoint(u.Path) != ""
}

// proxyEndpoint returns the endpoint a proxy link path ends in, or "".
func proxyEndpoint(p string) string {
	p = strings.TrimSuffix(p, "/")
	for _, endpoint := range []string{PlaylistEndpoint, SegmentEndpoint} {
		if p == endpoint || strings.HasSuffix(p, "/"+endpoint) {
			return endpoint
		}
	}
	return ""
}
