// Package server exposes the ranking pipeline over HTTP. It is a thin layer:
// identity extraction, request decoding, error-to-status mapping, and quota
// headers. All ranking semantics live in internal/ranking.
package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/ranklab/internal/quota"
	"github.com/sells-group/ranklab/internal/ranking"
)

// Server hosts the ranking API.
type Server struct {
	svc  *ranking.Service
	gate *quota.Gate
	cors []string
}

// New creates a Server.
func New(svc *ranking.Service, gate *quota.Gate, allowedOrigins []string) *Server {
	return &Server{svc: svc, gate: gate, cors: allowedOrigins}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cors,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/rank", s.handleRank)
		r.Get("/quota", s.handleQuota)
	})

	return r
}

// requestLogger attaches a request id and logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		next.ServeHTTP(w, r)

		zap.L().Debug("http request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// identityFor derives the quota identity from the request: a bearer token
// marks the caller authenticated (keyed by a token digest, not the raw
// token), everything else is anonymous keyed by remote IP.
func identityFor(r *http.Request) quota.Identity {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok && strings.TrimSpace(after) != "" {
		sum := sha256.Sum256([]byte(strings.TrimSpace(after)))
		return quota.Identity{Kind: quota.KindAuthenticated, ID: hex.EncodeToString(sum[:8])}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return quota.Identity{Kind: quota.KindAnonymous, ID: host}
}
