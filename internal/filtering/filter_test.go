package filtering

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
)

func newTestFilter(t *testing.T, cfg Config, next http.Handler) *Filter {
	t.Helper()
	if cfg.IPQueueTTL == 0 {
		cfg.IPQueueTTL = time.Minute
	}
	f, err := New(next, cache.NewMemory(), cfg)
	require.NoError(t, err)
	return f
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateThresholdBlacklisting(t *testing.T) {
	var blacklisted bool
	cfg := Config{
		Treshold:     5,
		BlacklistTTL: time.Hour,
		IPQueueTTL:   time.Minute,
		Callback:     func(addr string, req *http.Request) { blacklisted = true },
	}
	f := newTestFilter(t, cfg, okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "1.2.3.4:1234"
		f.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.True(t, blacklisted)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	f.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBadRequestThreshold(t *testing.T) {
	badHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	cfg := Config{
		Treshold:       100,
		BrTreshold:     2,
		BrBlacklistTTL: time.Hour,
		IPQueueTTL:     time.Minute,
	}
	f := newTestFilter(t, cfg, badHandler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "5.6.7.8:1"
		f.ServeHTTP(rec, req)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "5.6.7.8:1"
	f.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestObserveModeDoesNotReject(t *testing.T) {
	cfg := Config{
		Treshold:     3,
		BlacklistTTL: time.Hour,
		IPQueueTTL:   time.Minute,
		Observe:      true,
	}
	f := newTestFilter(t, cfg, okHandler())

	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "9.9.9.9:1"
		f.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	addrs, err := f.blacklist.Members(context.Background())
	require.NoError(t, err)
	assert.Contains(t, addrs, "9.9.9.9")
}

func TestWhitelistedAddressNeverBlacklisted(t *testing.T) {
	cfg := Config{
		Treshold:     1,
		BlacklistTTL: time.Hour,
		IPQueueTTL:   time.Minute,
		Whitelist:    []string{"10.0.0.0/8"},
	}
	f := newTestFilter(t, cfg, okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.1.2.3:1"
		f.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMissingSourceAddressForbidden(t *testing.T) {
	f := newTestFilter(t, Config{Treshold: 100, IPQueueTTL: time.Minute}, okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = ""
	f.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
