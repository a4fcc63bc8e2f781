// Package handler exposes the per-platform workflow services over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/internal/oauth"
	"github.com/young1lin/research2post/internal/workflow"
	"github.com/young1lin/research2post/pkg/logger"
)

const maxBodyBytes = 1 << 20

// aliases keeps the route names of the first deployment reachable.
var aliases = map[string]string{"twitter": "x"}

// Handler routes login, callback and post requests to the service of the
// platform named in the path.
type Handler struct {
	services map[string]*workflow.Service
	names    []string
	log      *zap.Logger
}

// New creates a handler over one service per enabled platform.
func New(services map[string]*workflow.Service, log *zap.Logger) *Handler {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Handler{
		services: services,
		names:    names,
		log:      logger.OrNamed(log, "http"),
	}
}

// Instrumented wraps h so every inbound request gets a server span.
func Instrumented(h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, "research2post")
}

// ServeHTTP handles all HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	traceID := extractTraceID(r)
	if traceID == "" {
		traceID = generateTraceID()
	}
	r = r.WithContext(logger.ContextWithTraceID(r.Context(), traceID))

	log := logger.FromContext(r.Context(), h.log)
	log.Info("request received",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("X-Trace-ID", traceID)

	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/health":
		h.handleHealth(w, r)
	case r.URL.Path == "/platforms":
		h.handlePlatforms(w, r)
	case len(segs) == 2 && segs[0] == "login":
		h.withService(w, r, segs[1], log, h.handleLogin)
	case len(segs) == 3 && segs[0] == "auth" && segs[2] == "callback":
		h.withService(w, r, segs[1], log, h.handleCallback)
	case len(segs) == 2 && segs[1] == "post":
		h.withService(w, r, segs[0], log, h.handlePost)
	default:
		h.handleError(w, http.StatusNotFound, "not_found", "Endpoint not found", log)
	}

	log.Info("request completed",
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

type routeFunc func(w http.ResponseWriter, r *http.Request, svc *workflow.Service, log *zap.Logger)

func (h *Handler) withService(w http.ResponseWriter, r *http.Request, name string, log *zap.Logger, route routeFunc) {
	name = strings.ToLower(name)
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	svc, ok := h.services[name]
	if !ok {
		h.handleError(w, http.StatusNotFound, "not_found", "unknown platform: "+name, log)
		return
	}
	route(w, r, svc, log.With(zap.String("platform", name)))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

type platformInfo struct {
	Name          string   `json:"name"`
	DisplayName   string   `json:"display_name"`
	MaxLength     int      `json:"max_length"`
	MinLength     int      `json:"min_length"`
	DefaultPolicy string   `json:"default_hashtag_policy"`
	Policies      []string `json:"hashtag_policies"`
	PKCE          bool     `json:"pkce"`
}

func (h *Handler) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	infos := make([]platformInfo, 0, len(h.names))
	for _, name := range h.names {
		p := h.services[name].Platform()
		infos = append(infos, platformInfo{
			Name:          p.Name,
			DisplayName:   p.DisplayName,
			MaxLength:     p.MaxLength,
			MinLength:     p.MinLength,
			DefaultPolicy: p.DefaultPolicy,
			Policies:      p.PolicyNames(),
			PKCE:          p.PKCE,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"platforms": infos})
}

// handleLogin redirects to the platform's consent page. With redirect=false
// the URL is returned as JSON instead, for clients that open it themselves.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request, svc *workflow.Service, log *zap.Logger) {
	if r.Method != http.MethodGet {
		h.handleError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", log)
		return
	}
	q := r.URL.Query()
	authURL, err := svc.StartAuthorization(r.Context(), q.Get("user_id"))
	if err != nil {
		h.handleDomainError(w, err, log)
		return
	}
	if q.Get("redirect") == "false" {
		writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request, svc *workflow.Service, log *zap.Logger) {
	if r.Method != http.MethodGet {
		h.handleError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", log)
		return
	}
	q := r.URL.Query()
	res, err := svc.CompleteAuthorization(r.Context(), oauth.Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.handleDomainError(w, err, log)
		return
	}

	frontend := svc.Platform().FrontendURL
	if frontend == "" {
		writeJSON(w, http.StatusOK, res)
		return
	}
	target, err := withQuery(frontend, url.Values{
		"status":   {res.Status},
		"platform": {svc.Platform().Name},
	})
	if err != nil {
		h.handleDomainError(w, domain.Configuration("invalid frontend_url: "+err.Error()), log)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handlePost accepts its fields as query parameters, a JSON body, or both; body
// fields win. Review stays off unless asked for.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request, svc *workflow.Service, log *zap.Logger) {
	if r.Method != http.MethodPost {
		h.handleError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", log)
		return
	}
	req, err := parsePostRequest(r)
	if err != nil {
		h.handleDomainError(w, err, log)
		return
	}

	res := svc.ResearchAndPublish(r.Context(), req)
	writeJSON(w, http.StatusOK, res)
}

func parsePostRequest(r *http.Request) (workflow.Request, error) {
	q := r.URL.Query()
	req := workflow.Request{
		UserID:        q.Get("user_id"),
		Query:         q.Get("query"),
		HashtagPolicy: q.Get("hashtag_policy"),
	}
	if v := q.Get("max_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, domain.Validation("max_length must be an integer")
		}
		req.MaxLength = n
	}
	if v := q.Get("enable_review"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, domain.Validation("enable_review must be a boolean")
		}
		req.EnableReview = b
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return req, domain.Validation("read request body: " + err.Error())
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, domain.Validation("invalid JSON body: " + err.Error())
	}
	return req, nil
}

// statusFor maps an error kind to the HTTP status a client sees.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthFlow:
		if errors.Is(err, domain.ErrAuthorizationDenied) {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	case domain.KindNotAuthenticated:
		return http.StatusUnauthorized
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error, log *zap.Logger) {
	errType, code := "internal", ""
	if typed, ok := domain.AsError(err); ok {
		errType, code = string(typed.Kind), string(typed.Code)
	}
	status := statusFor(err)
	log.Error("request error",
		zap.String("error_type", errType),
		zap.String("code", code),
		zap.Int("status", status),
		zap.Error(err),
	)
	writeJSON(w, status, models.ErrorResponse{
		Error: models.ErrorDetail{Type: errType, Code: code, Message: err.Error()},
	})
}

func (h *Handler) handleError(w http.ResponseWriter, status int, errType, message string, log *zap.Logger) {
	log.Error("request error",
		zap.String("error_type", errType),
		zap.String("message", message),
		zap.Int("status", status),
	)
	writeJSON(w, status, models.ErrorResponse{
		Error: models.ErrorDetail{Type: errType, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withQuery(raw string, extra url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// extractTraceID checks the headers callers commonly use for correlation.
func extractTraceID(r *http.Request) string {
	headers := []string{
		"X-Trace-ID",
		"X-Request-ID",
		"X-Correlation-ID",
		"Trace-ID",
		"Request-ID",
	}
	for _, header := range headers {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	return ""
}

func generateTraceID() string {
	return uuid.New().String()[:16]
}
