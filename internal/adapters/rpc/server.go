// Package rpc serves an engine session over JSON-RPC 2.0.
package rpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/platform/ratelimiter"
)

const (
	DefaultAddr         = "127.0.0.1:8790"
	defaultMaxBodyBytes = 1 << 20
	// AutoToken asks the server to generate a fresh token on start.
	AutoToken = "auto"
)

type Options struct {
	Addr string
	// Token authorizes callers. AutoToken generates one, written to
	// TokenFile when that is set.
	Token           string
	TokenFile       string
	RequireToken    bool
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxBodyBytes    int64
	AllowNullOrigin bool
	Logger          *slog.Logger
	// Registerer receives the server's request counter; Gatherer, when set,
	// is exposed on /metrics.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type Server struct {
	httpServer      *http.Server
	handler         http.Handler
	session         engine.Session
	token           string
	requireToken    bool
	allowNullOrigin bool
	limiter         *ratelimiter.Keyed
	maxBody         int64
	logger          *slog.Logger
	requests        *prometheus.CounterVec
}

// NewServer serves session. A token is required unless RequireToken is
// false.
func NewServer(session engine.Session, opts Options) (*Server, error) {
	token, err := resolveToken(opts.Token, opts.TokenFile)
	if err != nil {
		return nil, err
	}
	if opts.RequireToken && token == "" {
		return nil, errors.New("an rpc token is required; set ENGINELINK_RPC_TOKEN or disable requireToken")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enginelink",
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC requests by method and result.",
	}, []string{"method", "result"})
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(requests); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			requests = already.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	mux := http.NewServeMux()
	s := &Server{
		session:         session,
		token:           token,
		requireToken:    opts.RequireToken,
		allowNullOrigin: opts.AllowNullOrigin,
		limiter:         ratelimiter.New(opts.RateLimitRPS, opts.RateLimitBurst, 10*time.Minute),
		maxBody:         opts.MaxBodyBytes,
		logger:          logger,
		requests:        requests,
		handler:         mux,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.token == "" {
		logger.Warn("rpc token is not set; rpc auth disabled")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return s, nil
}

// Handler returns the HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !isAllowedOrigin(origin, s.allowNullOrigin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, "+TokenHeader+", "+RequestIDHeader)
	return true
}

func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" && !s.requireToken {
		return true
	}
	if extractRPCToken(r) != s.token {
		s.requests.WithLabelValues("", "unauthorized").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func extractRPCToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

// rateLimitKey buckets callers by token, or by remote host without one.
func rateLimitKey(r *http.Request, token string) string {
	if token != "" {
		return "token:" + token
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}

func isAllowedOrigin(raw string, allowNull bool) bool {
	if raw == "null" {
		return allowNull
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func resolveToken(token, file string) (string, error) {
	token = strings.TrimSpace(token)
	if !strings.EqualFold(token, AutoToken) {
		return token, nil
	}
	generated, err := generateToken(rand.Reader)
	if err != nil {
		return "", err
	}
	if file == "" {
		return generated, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(file, []byte(generated), 0o600); err != nil {
		return "", err
	}
	return generated, nil
}

func generateToken(r io.Reader) (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return "rpc_" + hex.EncodeToString(buf), nil
}
