package issuer

import (
	"encoding/json"
	"errors"
	"html/template"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/metrics"
	"github.com/nais/vpn-forwarder/pkg/middleware"
	"github.com/nais/vpn-forwarder/pkg/sessions"
	"github.com/nais/vpn-forwarder/pkg/types"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{- if .Error}}
<p class="error">{{.Error}}</p>
{{- end}}
<form method="post" action="/login">
<label>Username <input name="username" autocomplete="username"></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type Handler struct {
	signer         *credentials.Signer
	store          sessions.Store
	users          Users
	forwarderURL   string
	timeoutMinutes int
	secureCookies  bool
	lifetime       time.Duration
	apiKey         string
	now            func() time.Time
	log            logger.Logger
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func WithSecureCookies(secure bool) Option {
	return func(h *Handler) {
		h.secureCookies = secure
	}
}

// WithCookieLifetime How long the browser keeps credential cookies. Should match the credential lifetime.
func WithCookieLifetime(lifetime time.Duration) Option {
	return func(h *Handler) {
		h.lifetime = lifetime
	}
}

// WithAPIKey Require the key as a bearer token on the session listing.
func WithAPIKey(key string) Option {
	return func(h *Handler) {
		h.apiKey = key
	}
}

func WithSessionTimeout(minutes int) Option {
	return func(h *Handler) {
		h.timeoutMinutes = minutes
	}
}

func New(signer *credentials.Signer, store sessions.Store, users Users, forwarderURL string, log logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		signer:         signer,
		store:          store,
		users:          users,
		forwarderURL:   forwarderURL,
		timeoutMinutes: sessions.DefaultTimeoutMinutes,
		lifetime:       credentials.DefaultLifetime,
		now:            time.Now,
		log:            log.WithComponent(types.ComponentNameIssuer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router The issuer's HTTP API. Browser clients from allowedOrigins may call it with credentials.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/", h.Index)
	r.Post("/login", h.Login)
	r.Get("/logout", h.Logout)
	r.Get("/healthz", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/verify_token", h.VerifyToken)
		r.With(middleware.ApiKeyAuthentication(h.apiKey)).Get("/sessions", h.Sessions)
	})
	return r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	SessionID string         `json:"session_id"`
	Target    types.TargetID `json:"target_port"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (h *Handler) Index(w http.ResponseWriter, _ *http.Request) {
	h.renderLogin(w, http.StatusOK, "")
}

// Login Verify a username and password, start a new session for the user and hand out the credential. Any
// earlier session of the same user ends here.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	jsonRequest := isJSON(r)

	var req loginRequest
	if jsonRequest {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
	} else {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)

	log := h.log.WithUser(req.Username)

	target, ok := h.users.Authenticate(req.Username, req.Password)
	if !ok {
		metrics.IncLogins(false)
		log.Info("rejected login")
		if jsonRequest {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid username or password"})
		} else {
			h.renderLogin(w, http.StatusUnauthorized, "Invalid username or password")
		}
		return
	}

	token, claims, err := h.signer.Issue(req.Username, target)
	if err != nil {
		log.WithError(err).Error("issue credential")
		http.Error(w, "unable to issue credential", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	now := h.now()
	session := sessions.New(req.Username, token, target, h.timeoutMinutes, now)
	if err := h.store.Create(ctx, session); err != nil {
		log.WithError(err).Error("create session")
		http.Error(w, "unable to create session", http.StatusInternalServerError)
		return
	}

	if err := h.store.SetUserTarget(ctx, req.Username, target); err != nil {
		log.WithError(err).Warn("store user target")
	}

	if purged, err := h.store.Purge(ctx, now); err != nil {
		log.WithError(err).Warn("purge sessions")
	} else if purged > 0 {
		log.Debugf("purged %d stale sessions", purged)
	}

	metrics.IncLogins(true)
	log.WithSession(session.ID).WithTarget(target).Info("user signed in")

	h.setCookie(w, credentials.CookieName, token, h.lifetime)
	h.setCookie(w, credentials.SessionCookieName, session.ID, h.lifetime)

	if jsonRequest {
		writeJSON(w, http.StatusOK, loginResponse{
			Token:     token,
			SessionID: session.ID,
			Target:    target,
			ExpiresAt: claims.ExpiresAt.Time,
		})
		return
	}
	http.Redirect(w, r, h.forwarderURL, http.StatusFound)
}

// Logout End the session named by the session cookie and clear the credential cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(credentials.SessionCookieName)
	if err == nil && cookie.Value != "" {
		err := h.store.Delete(r.Context(), cookie.Value)
		switch {
		case errors.Is(err, sessions.ErrNotFound):
		case err != nil:
			h.log.WithSession(cookie.Value).WithError(err).Error("delete session")
		default:
			h.log.WithSession(cookie.Value).Info("user signed out")
		}
	}

	h.setCookie(w, credentials.CookieName, "", -1)
	h.setCookie(w, credentials.SessionCookieName, "", -1)
	http.Redirect(w, r, "/", http.StatusFound)
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid    bool           `json:"valid"`
	Username string         `json:"username,omitempty"`
	Target   types.TargetID `json:"target_port,omitempty"`
	Expires  int64          `json:"expires,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// VerifyToken Check the signature and embedded expiry of a credential. Session state is not consulted.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Error: "missing token"})
		return
	}

	claims, err := h.signer.Verify(req.Token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Error: "invalid or expired token"})
		return
	}

	resp := verifyResponse{
		Valid:    true,
		Username: claims.Username,
		Target:   claims.Target(),
	}
	if claims.ExpiresAt != nil {
		resp.Expires = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionSummary struct {
	Username     string         `json:"username"`
	Target       types.TargetID `json:"target_port"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// Sessions The currently valid sessions, keyed by session id. Credentials are not included.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list sessions")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "unable to list sessions"})
		return
	}

	now := h.now()
	ret := make(map[string]sessionSummary)
	for _, session := range all {
		if !session.Valid(now) {
			continue
		}
		ret[session.ID] = sessionSummary{
			Username:     session.Username,
			Target:       session.Target,
			CreatedAt:    session.CreatedAt,
			LastActivity: session.LastActivity,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ret, "count": len(ret)})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (h *Handler) renderLogin(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPage.Execute(w, struct{ Error string }{message}); err != nil {
		h.log.WithError(err).Warn("render login page")
	}
}

// setCookie Credential cookies are readable from scripts so browser clients can attach them to requests.
func (h *Handler) setCookie(w http.ResponseWriter, name, value string, lifetime time.Duration) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if lifetime < 0 {
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
	} else {
		cookie.MaxAge = int(lifetime.Seconds())
	}
	http.SetCookie(w, cookie)
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
