// Package server exposes the playlist and segment proxy endpoints.
package server

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hnrq/hls-proxy/internal/cache"
	"github.com/hnrq/hls-proxy/internal/metrics"
	"github.com/hnrq/hls-proxy/internal/playlist"
	"github.com/hnrq/hls-proxy/internal/ratelimit"
	"github.com/hnrq/hls-proxy/internal/upstream"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	playlistCacheHeader = "public, max-age=5"
)

type HostGuard interface {
	IsAllowedHost(host string) bool
}

type Fetcher interface {
	Fetch(ctx context.Context, targetURL, method string, forwarded http.Header) (*upstream.Response, error)
}

type Options struct {
	// PublicBaseURL prefixes rewritten links. Empty derives it per request.
	PublicBaseURL string
	// AllowedOrigins is the CORS allow-list; "*" allows any origin.
	AllowedOrigins   []string
	MaxPlaylistBytes int64
	// PlaylistTimeout bounds fetching and reading a playlist body.
	PlaylistTimeout time.Duration
	// SegmentIdle is the longest a segment stream may wait on a single
	// upstream read or client write before it is aborted.
	SegmentIdle time.Duration
	// TrustedProxies are the peers whose forwarding headers are believed.
	// Empty trusts the first X-Forwarded-For entry from anyone.
	TrustedProxies []netip.Prefix
}

type Deps struct {
	Limiter  ratelimit.Limiter
	Guard    HostGuard
	Fetcher  Fetcher
	Cache    *cache.Playlists
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type Server struct {
	opts           Options
	limiter        ratelimit.Limiter
	guard          HostGuard
	fetcher        Fetcher
	cache          *cache.Playlists
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
	log            *zap.Logger
	now            func() time.Time
	allowAnyOrigin bool
	allowedOrigins map[string]bool
}

func New(opts Options, deps Deps) *Server {
	if opts.MaxPlaylistBytes <= 0 {
		opts.MaxPlaylistBytes = 5 << 20
	}
	if opts.PlaylistTimeout <= 0 {
		opts.PlaylistTimeout = 10 * time.Second
	}
	if opts.SegmentIdle <= 0 {
		opts.SegmentIdle = 10 * time.Second
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")

	s := &Server{
		opts:           opts,
		limiter:        deps.Limiter,
		guard:          deps.Guard,
		fetcher:        deps.Fetcher,
		cache:          deps.Cache,
		metrics:        deps.Metrics,
		gatherer:       deps.Gatherer,
		log:            deps.Logger,
		now:            time.Now,
		allowedOrigins: make(map[string]bool),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry(), nil)
	}
	for _, origin := range opts.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			s.allowAnyOrigin = true
		}
		s.allowedOrigins[origin] = true
	}
	if len(opts.AllowedOrigins) == 0 {
		s.allowAnyOrigin = true
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	playlistHandler := s.cors(http.HandlerFunc(s.handlePlaylist))
	segmentHandler := s.cors(http.HandlerFunc(s.handleSegment))
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		r.Method(method, "/"+playlist.PlaylistEndpoint, playlistHandler)
		r.Method(method, "/"+playlist.SegmentEndpoint, segmentHandler)
	}
	return r
}

// proxyBase is the scheme and host rewritten links point at.
func (s *Server) proxyBase(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL
	}
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}
