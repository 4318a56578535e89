package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/koko/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := chain(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestAccessLogRecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("GET /items/{id}", okHandler())
	h := accessLog(testLog(), m)(mux)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/items/42", nil))
	assert.Equal(t, "ok", rr.Body.String())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope", nil))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	routes := map[string]string{}
	for _, f := range families {
		if f.GetName() != "koko_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			routes[labels["route"]] = labels["code"]
		}
	}
	assert.Equal(t, map[string]string{"GET /items/{id}": "200", "unmatched": "404"}, routes)
}

func TestAccessLogWithoutMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	accessLog(testLog(), nil)(okHandler()).ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestID(t *testing.T) {
	rr := httptest.NewRecorder()
	requestID(okHandler()).ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	assert.NotEmpty(t, rr.Header().Get(headerRequestID))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(headerRequestID, "custom-id-123")
	rr = httptest.NewRecorder()
	requestID(okHandler()).ServeHTTP(rr, req)
	assert.Equal(t, "custom-id-123", rr.Header().Get(headerRequestID))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"deny when unconfigured", nil, "http://localhost:8081", ""},
		{"wildcard", []string{"*"}, "http://localhost:8081", "http://localhost:8081"},
		{"specific match", []string{"http://localhost:8081"}, "http://localhost:8081", "http://localhost:8081"},
		{"specific mismatch", []string{"http://localhost:8081"}, "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			cors(tt.allowed)(okHandler()).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	rr := httptest.NewRecorder()
	cors([]string{"*"})(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRecoverPanics(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rr := httptest.NewRecorder()
	recoverPanics(testLog())(boom).ServeHTTP(rr, httptest.NewRequest("GET", "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error_code":"INTERNAL_ERROR","message":"internal error"}`, rr.Body.String())
}
