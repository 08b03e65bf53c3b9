package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esb-platform/esb/pkg/gateway/auth"
	"github.com/esb-platform/esb/pkg/gateway/orchclient"
	"github.com/esb-platform/esb/pkg/reqid"
	"github.com/esb-platform/esb/pkg/routing"
)

type fixedKeys struct{ key string }

func (f fixedKeys) Valid(k string) bool { return k == f.key }

type fixedCreds struct{ user, pass string }

func (f fixedCreds) Verify(u, p string) bool { return u == f.user && p == f.pass }

func newTestServer(t *testing.T, worker *httptest.Server) (*Server, *auth.TokenIssuer) {
	t.Helper()
	one := 5
	tbl := &routing.Table{Functions: []routing.Function{
		{Name: "hello", Routes: []routing.Route{{Method: "GET", Path: "/api/hello"}}, MaxCapacity: &one, InvokeTimeoutMs: 2000},
	}}

	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(orchclient.EnsureResponse{ContainerID: "c1", Address: worker.Listener.Addr().String()})
	}))
	t.Cleanup(orch.Close)
	t.Cleanup(worker.Close)

	cfg := defaultConfig()
	ctx := NewContext(cfg, tbl, orchclient.New(orch.URL, time.Second), testLogger())
	issuer := auth.NewTokenIssuer([]byte("secret"), time.Minute)
	srv := NewServer(ctx, fixedKeys{"good-key"}, fixedCreds{"alice", "pw"}, issuer, testLogger())
	return srv, issuer
}

func TestHandleAuth_Success(t *testing.T) {
	srv, _ := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	mux := http.NewServeMux()
	srv.Routes(mux)

	body, _ := json.Marshal(map[string]any{
		"AuthParameters": map[string]string{"USERNAME": "alice", "PASSWORD": "pw"},
	})
	req := httptest.NewRequest(http.MethodPost, "/user/auth/ver1.0", bytes.NewReader(body))
	req.Header.Set("x-api-key", "good-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("PADMA_USER_AUTHORIZED"))
}

func TestHandleAuth_BadAPIKeyOmitsHeader(t *testing.T) {
	srv, _ := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	mux := http.NewServeMux()
	srv.Routes(mux)

	body, _ := json.Marshal(map[string]any{
		"AuthParameters": map[string]string{"USERNAME": "alice", "PASSWORD": "pw"},
	})
	req := httptest.NewRequest(http.MethodPost, "/user/auth/ver1.0", bytes.NewReader(body))
	req.Header.Set("x-api-key", "wrong-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("PADMA_USER_AUTHORIZED"))
}

func TestHandleAuth_BadCredentialsSetsHeader(t *testing.T) {
	srv, _ := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	mux := http.NewServeMux()
	srv.Routes(mux)

	body, _ := json.Marshal(map[string]any{
		"AuthParameters": map[string]string{"USERNAME": "alice", "PASSWORD": "wrong"},
	})
	req := httptest.NewRequest(http.MethodPost, "/user/auth/ver1.0", bytes.NewReader(body))
	req.Header.Set("x-api-key", "good-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("PADMA_USER_AUTHORIZED"))
}

func TestHandleInvoke_UnknownRouteReturns404(t *testing.T) {
	srv, _ := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleInvoke_MissingBearerReturns401(t *testing.T) {
	srv, _ := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleInvoke_ValidBearerReachesBackend(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}))
	defer worker.Close()

	srv, issuer := newTestServer(t, worker)
	mux := http.NewServeMux()
	srv.Routes(mux)

	tok, err := issuer.Issue("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestHandleDebugVars_ReturnsCounterSnapshot(t *testing.T) {
	srv, issuer := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	mux := http.NewServeMux()
	srv.Routes(mux)

	tok, err := issuer.Issue("alice")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	mux.ServeHTTP(httptest.NewRecorder(), req)

	varsReq := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	varsRec := httptest.NewRecorder()
	mux.ServeHTTP(varsRec, varsReq)

	assert.Equal(t, http.StatusOK, varsRec.Code)
	var body map[string]int64
	require.NoError(t, json.Unmarshal(varsRec.Body.Bytes(), &body))
}

func TestHandleInvoke_PropagatesRequestIDHeader(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer worker.Close()

	srv, issuer := newTestServer(t, worker)
	mux := http.NewServeMux()
	srv.Routes(mux)

	tok, err := issuer.Issue("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(reqid.Header, "caller-supplied-id")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, "caller-supplied-id", rec.Header().Get(reqid.Header))
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
