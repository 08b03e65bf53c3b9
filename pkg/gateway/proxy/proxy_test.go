package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestInvoke_Success(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer backend.Close()

	req := httptest.NewRequest(http.MethodGet, "/invoke", nil)
	rec := httptest.NewRecorder()

	outcome, err := Invoke(rec, req, addrOf(backend), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Success, outcome)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInvoke_ServerErrorMarksOutcome(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	req := httptest.NewRequest(http.MethodGet, "/invoke", nil)
	rec := httptest.NewRecorder()

	outcome, err := Invoke(rec, req, addrOf(backend), time.Second)
	assert.Error(t, err)
	assert.Equal(t, ServerError, outcome)
	assert.Equal(t, http.StatusBadGateway, rec.Code, "the raw upstream status must not leak to the client")
}

func TestInvoke_TimeoutMarksOutcome(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	req := httptest.NewRequest(http.MethodGet, "/invoke", nil)
	rec := httptest.NewRecorder()

	outcome, err := Invoke(rec, req, addrOf(backend), 5*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, Timeout, outcome)
}

func TestInvoke_NetworkErrorForUnreachableAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/invoke", nil)
	rec := httptest.NewRecorder()

	outcome, err := Invoke(rec, req, "127.0.0.1:1", time.Second)
	assert.Error(t, err)
	assert.Equal(t, NetworkError, outcome)
}
