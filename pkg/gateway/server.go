package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/esb-platform/esb/pkg/esberrors"
	"github.com/esb-platform/esb/pkg/gateway/auth"
	"github.com/esb-platform/esb/pkg/reqid"
)

// Server is the Gateway's public HTTP surface (spec §6): authentication
// exchange, health check, and the routed function proxy.
type Server struct {
	ctx    *Context
	keys   auth.APIKeyStore
	creds  auth.CredentialVerifier
	issuer *auth.TokenIssuer
	logger *slog.Logger
}

// NewServer builds the Gateway's public HTTP handler set.
func NewServer(ctx *Context, keys auth.APIKeyStore, creds auth.CredentialVerifier, issuer *auth.TokenIssuer, logger *slog.Logger) *Server {
	return &Server{ctx: ctx, keys: keys, creds: creds, issuer: issuer, logger: logger}
}

// Routes registers the Gateway's public handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /user/auth/ver1.0", s.handleAuth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug/vars", s.handleDebugVars)
	mux.HandleFunc("/", s.handleInvoke)
}

func (s *Server) handleDebugVars(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctx.Metrics.Snapshot())
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthParameters struct {
			Username string `json:"USERNAME"`
			Password string `json:"PASSWORD"`
		} `json:"AuthParameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	result, err := auth.Authenticate(s.keys, s.creds, s.issuer, r.Header.Get("x-api-key"), req.AuthParameters.Username, req.AuthParameters.Password)
	if err != nil {
		if result.Authorized {
			w.Header().Set("PADMA_USER_AUTHORIZED", "true")
		}
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	w.Header().Set("PADMA_USER_AUTHORIZED", "true")
	writeJSON(w, http.StatusOK, map[string]any{
		"AuthenticationResult": map[string]string{"IdToken": result.IDToken},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id := reqid.FromRequest(r)
	w.Header().Set(reqid.Header, id)
	r.Header.Set(reqid.Header, id)
	r = r.WithContext(reqid.WithContext(r.Context(), id))

	name, err := s.ctx.Matcher.Match(r.Method, r.URL.Path)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}

	subject, err := s.verifyBearer(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	r = r.WithContext(withSubject(r.Context(), subject))

	if err := s.ctx.Invoke(w, r, name); err != nil {
		s.writeInvokeError(w, err, id, name)
	}
}

func (s *Server) verifyBearer(r *http.Request) (string, error) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", esberrors.ErrBadCredentials
	}
	return s.issuer.Verify(h[len(prefix):])
}

func (s *Server) writeRouteError(w http.ResponseWriter, err error) {
	switch err {
	case esberrors.ErrMethodNotAllowed:
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
	default:
		http.Error(w, err.Error(), http.StatusNotFound)
	}
}

func (s *Server) writeInvokeError(w http.ResponseWriter, err error, requestID, function string) {
	switch err {
	case esberrors.ErrBreakerOpen, esberrors.ErrAcquireTimedOut, esberrors.ErrDisabled:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case esberrors.ErrUpstreamTimeout:
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case esberrors.ErrUpstreamServerError, esberrors.ErrUpstreamNetworkError:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error("invoke failed", "request_id", requestID, "function", function, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
