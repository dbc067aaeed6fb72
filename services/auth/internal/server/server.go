package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"schoollib/internal/ratelimit"
	"schoollib/internal/util"
	"schoollib/pkg/domain"
	"schoollib/pkg/store"
	"schoollib/services/auth/internal/app"
)

const (
	deskCookieName  = "desk_session"
	maxBodyBytes    = 1 << 16
	maxClientString = 512
	readyTimeout    = 2 * time.Second
	sweepInterval   = time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Redis is pinged by /readyz when set.
	Redis redis.UniversalClient
	// LoginLimiter throttles POST /auth/login per client IP; nil disables it.
	LoginLimiter   *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	DeskIdleTTL    time.Duration
	SecureCookies  bool
}

// Server exposes HTTP endpoints for the auth service.
type Server struct {
	app           *app.App
	redis         redis.UniversalClient
	loginLimiter  *ratelimit.FixedWindowLimiter
	trusted       *util.TrustedProxies
	secureCookies bool
	desks         *deskRegistry
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		redis:         cfg.Redis,
		loginLimiter:  cfg.LoginLimiter,
		trusted:       cfg.TrustedProxies,
		secureCookies: cfg.SecureCookies,
		desks:         newDeskRegistry(cfg.DeskIdleTTL),
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("auth", util.WithSecurityHeaders(s.mux)))
}

// Run expires idle desk sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.desks.run(ctx, sweepInterval)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)

	// auth
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.Handle("/auth/me", s.signedIn(s.handleMe))
	s.mux.HandleFunc("/auth/jwks", s.handleJWKS)

	// admin
	s.mux.Handle("/auth/admin/audit", s.signedIn(s.handleAdminAudit))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.app.Ping(ctx) })
	if s.redis != nil {
		g.Go(func() error { return s.redis.Ping(ctx).Err() })
	}
	if err := g.Wait(); err != nil {
		util.LoggerFromContext(r.Context()).Warn("readiness_check_failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// desk wrappers
type deskHandler func(http.ResponseWriter, *http.Request, *app.Client, domain.Profile)

func (s *Server) signedIn(next deskHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := s.deskClient(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		profile, ok := client.Current()
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, client, profile)
	})
}

func (s *Server) deskClient(r *http.Request) (*app.Client, bool) {
	cookie, err := r.Cookie(deskCookieName)
	if err != nil {
		return nil, false
	}
	return s.desks.get(cookie.Value)
}

// auth handlers
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx := app.WithRequestMeta(r.Context(), s.requestMeta(r))
	req, err := app.ParseLoginRequest(body.Identifier, body.Password, body.Role)
	if err != nil {
		if strings.TrimSpace(body.Identifier) != "" {
			s.app.RecordRejected(ctx, truncate(body.Identifier), domain.Role(truncate(strings.ToLower(strings.TrimSpace(body.Role)))), app.KindInvalidRequest)
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.loginLimiter != nil && !s.loginLimiter.Allow(ctx, "login|"+util.ClientIP(r, s.trusted)) {
		s.app.RecordRejected(ctx, req.Identifier(), req.Role(), app.KindRateLimited)
		w.Header().Set("Retry-After", strconv.Itoa(s.loginLimiter.RetryAfter()))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many login attempts", Code: string(app.KindRateLimited)})
		return
	}

	client, known := s.deskClient(r)
	if !known {
		client = s.app.NewClient()
	}
	if err := client.SignIn(ctx, req); err != nil {
		writeLoginError(w, err)
		return
	}
	if !known {
		s.setDeskCookie(w, r, s.desks.add(client))
	}
	writeJSON(w, http.StatusOK, sessionResponseFor(client))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	cookie, err := r.Cookie(deskCookieName)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if client, ok := s.desks.peek(cookie.Value); ok {
		if err := client.SignOut(r.Context()); err != nil {
			writeLoginError(w, err)
			return
		}
	}
	s.desks.remove(cookie.Value)
	s.clearDeskCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	client, ok := s.deskClient(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := client.Refresh(r.Context())
	switch {
	case errors.Is(err, app.ErrNotSignedIn):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrNoDelegatedSession):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeLoginError(w, err)
	default:
		writeJSON(w, http.StatusOK, sessionResponseFor(client))
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, client *app.Client, _ domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponseFor(client))
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	keys := s.app.JWKS()
	if len(keys) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// admin handlers
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request, _ *app.Client, profile domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	filter := store.AuditFilter{
		Identifier: q.Get("identifier"),
		UserID:     strings.TrimSpace(q.Get("userId")),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = since
	}
	entries, err := s.app.ListAudit(r.Context(), profile, filter)
	if errors.Is(err, app.ErrAuditAccessDenied) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("list_login_audit_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

func (s *Server) requestMeta(r *http.Request) app.RequestMeta {
	return app.RequestMeta{
		NetworkAddress: util.ClientIP(r, s.trusted),
		ClientString:   truncate(strings.TrimSpace(r.UserAgent())),
		Location:       util.ClientLocation(r, s.trusted),
	}
}

func truncate(v string) string {
	if len(v) > maxClientString {
		return v[:maxClientString]
	}
	return v
}

func (s *Server) setDeskCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     deskCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies || util.IsHTTPS(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearDeskCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     deskCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies || util.IsHTTPS(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Role       string `json:"role"`
}

type sessionResponse struct {
	Profile   domain.Profile `json:"profile"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func sessionResponseFor(client *app.Client) sessionResponse {
	current := client.Sessions().Get()
	if current == nil {
		return sessionResponse{}
	}
	resp := sessionResponse{Profile: current.Profile}
	if current.Delegated != nil && !current.Delegated.ExpiresAt.IsZero() {
		expires := current.Delegated.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}

// statusFor maps sign-in failures onto HTTP status codes.
func statusFor(kind app.Kind) int {
	switch kind {
	case app.KindUnknownIdentifier, app.KindProfileNotFound, app.KindInvalidPassword, app.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case app.KindRoleMismatch:
		return http.StatusForbidden
	case app.KindTimeout:
		return http.StatusGatewayTimeout
	case app.KindUnavailable:
		return http.StatusServiceUnavailable
	case app.KindRateLimited:
		return http.StatusTooManyRequests
	case app.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeLoginError(w http.ResponseWriter, err error) {
	kind := app.KindOf(err)
	if kind == "" {
		writeError(w, http.StatusBadGateway, "auth provider error")
		return
	}
	writeJSON(w, statusFor(kind), errorResponse{Error: err.Error(), Code: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
