package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSearch(t *testing.T) {
	m := New()
	m.ObserveSearch(time.Millisecond, 3, nil)
	m.ObserveSearch(time.Millisecond, 0, nil)
	m.ObserveSearch(time.Millisecond, 0, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("zero_result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("error")))
}

func TestObserveAddAndBootstrap(t *testing.T) {
	m := New()
	m.ObserveAdd(time.Second, 10, nil)
	m.ObserveAdd(time.Second, 5, errors.New("quota"))
	m.ObserveBootstrap("loaded", 10)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.PassagesEmbedded))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.StorePassages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BootstrapsTotal.WithLabelValues("loaded")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RegisterCacheStats(func() (int64, int64) { return 4, 2 })

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ready", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ragstore_embedding_cache_hits_total 4")
	assert.Contains(t, body, "ragstore_embedding_cache_misses_total 2")
	assert.Contains(t, body, "ragstore_http_requests_total")
}

func TestMiddleware_AllowsWebSocketUpgrade(t *testing.T) {
	m := New()
	var upgrader websocket.Upgrader
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(m.Middleware(echo))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ws", "101")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStatusWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	assert.Same(t, rec, sw.Unwrap())

	_, _, err := sw.Hijack()
	assert.Error(t, err)
}
