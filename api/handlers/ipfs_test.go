package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/rewards/api/handlers"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
	rewardstesting "github.com/malbeclabs/rewards/utils/pkg/testing"
)

const (
	manifestCID = "bafkreidou3ofgpejjlbjq2kahg6u2aobkcq7gusrqieer452keisafrio4"
	missingCID  = "bafkreicf7wptzvb5nni4lhtk2z7gzxjdkjm26ka525ljday42j5pri3w4u"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newProxyRouter(t *testing.T, gatewayURL string) http.Handler {
	t.Helper()
	proxy, err := handlers.NewIPFSProxy(handlers.IPFSProxyConfig{
		Logger:     rewardstesting.NewLogger(),
		GatewayURL: gatewayURL,
		Retry:      fastRetry(),
	})
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Get("/api/ipfs/{cid}", proxy.ServeHTTP)
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestIPFSProxy_Success(t *testing.T) {
	t.Parallel()

	var gotPath string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"manifest"}`))
	}))
	t.Cleanup(gw.Close)

	rec := httptest.NewRecorder()
	newProxyRouter(t, gw.URL+"/ipfs/").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipfs/"+manifestCID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/ipfs/"+manifestCID, gotPath)
	assert.Equal(t, `{"id":"manifest"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIPFSProxy_DefaultContentType(t *testing.T) {
	t.Parallel()

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte{0x00, 0x01, 0x02})
	}))
	t.Cleanup(gw.Close)

	rec := httptest.NewRecorder()
	newProxyRouter(t, gw.URL+"/ipfs/").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipfs/"+manifestCID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, rec.Body.Bytes())
}

func TestIPFSProxy_StatusTable(t *testing.T) {
	t.Parallel()

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/" + missingCID:
			http.NotFound(w, r)
		default:
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
	}))
	t.Cleanup(gw.Close)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name       string
		gateway    string
		cid        string
		wantStatus int
		wantError  string
	}{
		{"gateway unset", "", manifestCID, http.StatusInternalServerError, "IPFS gateway URL is not set"},
		{"gateway unset wins over bad cid", "", "short", http.StatusInternalServerError, "IPFS gateway URL is not set"},
		{"cid too short", gw.URL + "/ipfs/", "Qm123", http.StatusBadRequest, "Invalid CID"},
		{"upstream 404 mirrored", gw.URL + "/ipfs/", missingCID, http.StatusNotFound, "IPFS gateway returned 404"},
		{"upstream 502 mirrored after retries", gw.URL + "/ipfs/", manifestCID, http.StatusBadGateway, "IPFS gateway returned 502"},
		{"transport failure", closedURL + "/ipfs/", manifestCID, http.StatusInternalServerError, "Failed to fetch from IPFS gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			newProxyRouter(t, tt.gateway).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipfs/"+tt.cid, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantError, decodeError(t, rec))
			assert.Empty(t, rec.Header().Get("Cache-Control"), "errors must not be cached")
		})
	}
}

func TestIPFSProxy_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(gw.Close)

	rec := httptest.NewRecorder()
	newProxyRouter(t, gw.URL+"/ipfs/").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipfs/"+manifestCID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIPFSProxy_DoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(gw.Close)

	rec := httptest.NewRecorder()
	newProxyRouter(t, gw.URL+"/ipfs/").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipfs/"+manifestCID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIPFSProxy_OversizedBodyRejected(t *testing.T) {
	t.Parallel()

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"manifest"}`))
	}))
	t.Cleanup(gw.Close)

	newRouter := func(limit int64) http.Handler {
		proxy, err := handlers.NewIPFSProxy(handlers.IPFSProxyConfig{
			Logger:       rewardstesting.NewLogger(),
			GatewayURL:   gw.URL + "/ipfs/",
			Retry:        fastRetry(),
			MaxBodyBytes: limit,
		})
		require.NoError(t, err)
		r := chi.NewRouter()
		r.Get("/api/ipfs/{cid}", proxy.ServeHTTP)
		return r
	}

	t.Run("over limit", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		newRouter(8).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipfs/"+manifestCID, nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to fetch from IPFS gateway", decodeError(t, rec))
		assert.Empty(t, rec.Header().Get("Cache-Control"))
	})

	t.Run("exactly at limit", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		newRouter(int64(len(`{"id":"manifest"}`))).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipfs/"+manifestCID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"id":"manifest"}`, rec.Body.String())
	})
}
