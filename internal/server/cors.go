package server

import (
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		switch {
		case s.allowAnyOrigin:
			h.Set("Access-Control-Allow-Origin", "*")
		case s.allowedOrigins[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		case origin != "":
			loggerFrom(r.Context(), s.log).Warn("Unauthorized origin blocked", zap.String("origin", origin))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		h.Set("Access-Control-Allow-Methods", "GET, HEAD")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Cookie, Range")
		h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
