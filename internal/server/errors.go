package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hnrq/hls-proxy/internal/metrics"
)

type errorKind int

const (
	inputError errorKind = iota
	securityRejection
	rateLimitExceeded
	upstreamFailure
)

// requestError is the single terminal response of a failed request. message
// is what the client sees; err stays in the logs.
type requestError struct {
	kind       errorKind
	message    string
	retryAfter time.Duration
	err        error
}

func (e *requestError) status() int {
	switch e.kind {
	case inputError:
		return http.StatusBadRequest
	case securityRejection:
		return http.StatusForbidden
	case rateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (e *requestError) outcome() string {
	switch e.kind {
	case inputError:
		return metrics.OutcomeInvalid
	case securityRejection:
		return metrics.OutcomeForbidden
	case rateLimitExceeded:
		return metrics.OutcomeRateLimited
	default:
		return metrics.OutcomeUpstream
	}
}

func invalidInput(message string) *requestError {
	return &requestError{kind: inputError, message: message}
}

func forbiddenHost() *requestError {
	return &requestError{kind: securityRejection, message: "Forbidden"}
}

func tooManyRequests(retryAfter time.Duration) *requestError {
	return &requestError{kind: rateLimitExceeded, message: "Too many requests", retryAfter: retryAfter}
}

func proxyFailed(err error) *requestError {
	return &requestError{kind: upstreamFailure, message: "Proxy failed", err: err}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, endpoint string, rerr *requestError) {
	log := loggerFrom(r.Context(), s.log).With(
		zap.String("endpoint", endpoint),
		zap.String("url", r.URL.Query().Get("url")),
	)
	switch rerr.kind {
	case inputError:
		log.Debug("Rejected request", zap.String("reason", rerr.message))
	case securityRejection:
		log.Warn("Blocked disallowed upstream host", zap.String("client", s.clientIdentity(r)))
	case rateLimitExceeded:
		log.Info("Rate limit exceeded", zap.String("client", s.clientIdentity(r)))
	default:
		log.Error("Proxy error", zap.Error(rerr.err))
	}

	s.metrics.Requests.WithLabelValues(endpoint, rerr.outcome()).Inc()

	if rerr.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(rerr.retryAfter.Round(time.Second)/time.Second)))
	}
	http.Error(w, rerr.message, rerr.status())
}
