package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"

	"github.com/hnrq/hls-proxy/internal/cache"
	"github.com/hnrq/hls-proxy/internal/metrics"
	"github.com/hnrq/hls-proxy/internal/playlist"
)

const (
	endpointPlaylist = "playlist"
	endpointSegment  = "segment"
)

var errPlaylistTooLarge = errors.New("playlist exceeds size limit")

// admit runs the checks shared by both endpoints, in order: parameter
// present, parseable absolute http(s) URL, extension, origin guard, rate
// limit. The first failure is returned.
func (s *Server) admit(r *http.Request, ext string) (*url.URL, *requestError) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		return nil, invalidInput("Missing url")
	}

	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, invalidInput("Invalid url")
	}

	if !strings.HasSuffix(strings.ToLower(target.Path), ext) {
		return nil, invalidInput(fmt.Sprintf("Unsupported file type, expected %s", ext))
	}

	if !s.guard.IsAllowedHost(target.Hostname()) {
		return nil, forbiddenHost()
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Take(r.Context(), s.clientIdentity(r), s.now())
		if err != nil {
			// store outage must not take playback down with it
			loggerFrom(r.Context(), s.log).Warn("Rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			return nil, tooManyRequests(s.limiter.Window())
		}
	}
	return target, nil
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	target, rerr := s.admit(r, ".m3u8")
	if rerr != nil {
		s.fail(w, r, endpointPlaylist, rerr)
		return
	}

	base := s.proxyBase(r)
	key := cache.Key(target.String(), r.Header.Get("Cookie"), base)
	if entry, ok := s.cache.Get(key); ok {
		s.metrics.Requests.WithLabelValues(endpointPlaylist, metrics.OutcomeCacheHit).Inc()
		s.metrics.Playlists.WithLabelValues(entry.Kind).Inc()
		s.writePlaylist(w, r, entry.Body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.PlaylistTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.fetcher.Fetch(ctx, target.String(), http.MethodGet, r.Header)
	s.metrics.UpstreamDuration.WithLabelValues(endpointPlaylist).Observe(time.Since(start).Seconds())
	if err != nil {
		s.fail(w, r, endpointPlaylist, proxyFailed(err))
		return
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, s.opts.MaxPlaylistBytes+1))
	if err != nil {
		s.fail(w, r, endpointPlaylist, proxyFailed(fmt.Errorf("read playlist: %w", err)))
		return
	}
	if int64(len(body)) > s.opts.MaxPlaylistBytes {
		s.fail(w, r, endpointPlaylist, proxyFailed(errPlaylistTooLarge))
		return
	}

	// relative lines resolve against where the playlist actually came from
	origin := target.String()
	if res.URL != nil {
		origin = res.URL.String()
	}
	text := string(body)
	kind := playlist.Classify(text)
	rewritten := []byte(playlist.NewRewriter(base).Rewrite(text, origin))

	s.cache.Set(key, cache.Entry{Body: rewritten, Kind: string(kind)})
	s.metrics.Playlists.WithLabelValues(string(kind)).Inc()
	s.metrics.Requests.WithLabelValues(endpointPlaylist, metrics.OutcomeOK).Inc()
	loggerFrom(r.Context(), s.log).Debug("Playlist rewritten",
		zap.String("url", origin),
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(rewritten)),
	)
	s.writePlaylist(w, r, rewritten)
}

func (s *Server) writePlaylist(w http.ResponseWriter, r *http.Request, body []byte) {
	h := w.Header()
	h.Set("Content-Type", playlistContentType)
	h.Set("Cache-Control", playlistCacheHeader)
	h.Add("Vary", "Accept-Encoding")

	gzipped := httpguts.HeaderValuesContainsToken(r.Header["Accept-Encoding"], "gzip")
	if gzipped {
		h.Set("Content-Encoding", "gzip")
	} else {
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if !gzipped {
		_, _ = w.Write(body)
		return
	}
	gz := gzip.NewWriter(w)
	_, _ = gz.Write(body)
	if err := gz.Close(); err != nil {
		loggerFrom(r.Context(), s.log).Debug("Playlist write interrupted", zap.Error(err))
	}
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	target, rerr := s.admit(r, ".ts")
	if rerr != nil {
		s.fail(w, r, endpointSegment, rerr)
		return
	}

	method := http.MethodGet
	if r.Method == http.MethodHead {
		method = http.MethodHead
	}

	// bound to the client request: a disconnect aborts the upstream transfer
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	start := time.Now()
	res, err := s.fetcher.Fetch(ctx, target.String(), method, r.Header)
	s.metrics.UpstreamDuration.WithLabelValues(endpointSegment).Observe(time.Since(start).Seconds())
	if err != nil {
		s.fail(w, r, endpointSegment, proxyFailed(err))
		return
	}
	defer res.Body.Close()

	h := w.Header()
	copySegmentHeaders(h, res.Header)
	h.Set("Content-Type", segmentContentType)
	w.WriteHeader(res.Status)
	s.metrics.Requests.WithLabelValues(endpointSegment, metrics.OutcomeOK).Inc()

	if method == http.MethodHead {
		return
	}
	var stalled atomic.Bool
	written, err := streamBody(w, res.Body, s.opts.SegmentIdle, func() {
		stalled.Store(true)
		cancel()
	})
	s.metrics.SegmentBytes.Add(float64(written))
	if err != nil {
		loggerFrom(r.Context(), s.log).Info("Segment stream interrupted",
			zap.String("url", target.String()),
			zap.Int64("written", written),
			zap.Bool("stalled", stalled.Load()),
			zap.Error(err),
		)
	}
}
