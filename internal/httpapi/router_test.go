package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
	"github.com/mozilla-services/keyexchange-relay/internal/channel"
	"github.com/mozilla-services/keyexchange-relay/internal/logging"
)

func newTestRouter(t *testing.T, maxGets int) *Router {
	t.Helper()
	c := cache.NewPrefixed(cache.NewMemory(), "keyexchange:")
	engine := channel.New(c, logging.NopSink{}, channel.Config{
		CidLen:  4,
		TTL:     time.Minute,
		MaxGets: maxGets,
		RootURL: "https://example.test/landing",
	})
	return New(engine, logging.NopSink{})
}

func doReq(r *Router, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func newChannel(t *testing.T, r *Router, clientID string) string {
	t.Helper()
	rec := doReq(r, http.MethodGet, "/new_channel", map[string]string{hdrClientID: clientID}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cid string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cid))
	return cid
}

func TestScenarioTwoPartyRendezvous(t *testing.T) {
	r := newTestRouter(t, 6)

	a := strings.Repeat("a", 256)
	b := strings.Repeat("b", 256)

	cid := newChannel(t, r, a)

	rec := doReq(r, http.MethodPut, "/"+cid, map[string]string{hdrClientID: a}, "msg1")
	require.Equal(t, http.StatusOK, rec.Code)
	etag1 := rec.Header().Get("ETag")
	require.NotEmpty(t, etag1)

	rec = doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: b}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "msg1", rec.Body.String())
	assert.Equal(t, etag1, rec.Header().Get("ETag"))

	rec = doReq(r, http.MethodPut, "/"+cid, map[string]string{hdrClientID: b}, "msg2")
	require.Equal(t, http.StatusOK, rec.Code)
	etag2 := rec.Header().Get("ETag")
	assert.NotEqual(t, etag1, etag2)

	rec = doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: a, "If-None-Match": etag1}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "msg2", rec.Body.String())

	rec = doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: a, "If-None-Match": etag2}, "")
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestScenarioThirdPartyRejection(t *testing.T) {
	r := newTestRouter(t, 6)

	a := strings.Repeat("a", 256)
	b := strings.Repeat("b", 256)
	c := strings.Repeat("c", 256)

	cid := newChannel(t, r, a)
	doReq(r, http.MethodPut, "/"+cid, map[string]string{hdrClientID: a}, "hi")

	rec := doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: b}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: c}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: a}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarioGetCountEviction(t *testing.T) {
	r := newTestRouter(t, 3)
	a := strings.Repeat("a", 256)

	cid := newChannel(t, r, a)
	doReq(r, http.MethodPut, "/"+cid, map[string]string{hdrClientID: a}, "x")

	for i := 0; i < 3; i++ {
		rec := doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: a}, "")
		require.Equal(t, http.StatusOK, rec.Code, "get #%d", i+1)
	}

	rec := doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: a}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientIDBoundaryLengths(t *testing.T) {
	r := newTestRouter(t, 6)

	rec := doReq(r, http.MethodGet, "/new_channel", map[string]string{hdrClientID: strings.Repeat("a", 255)}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(r, http.MethodGet, "/new_channel", map[string]string{hdrClientID: strings.Repeat("a", 257)}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnallocatedChannelIs404(t *testing.T) {
	r := newTestRouter(t, 6)
	a := strings.Repeat("a", 256)

	rec := doReq(r, http.MethodGet, "/zZ9q", map[string]string{hdrClientID: a}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowedOnRecognizedRoutes(t *testing.T) {
	r := newTestRouter(t, 6)

	rec := doReq(r, http.MethodPost, "/new_channel", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doReq(r, http.MethodGet, "/report", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doReq(r, http.MethodPatch, "/zZ9q", map[string]string{hdrClientID: strings.Repeat("a", 256)}, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRootHealthRedirect(t *testing.T) {
	r := newTestRouter(t, 6)

	rec := doReq(r, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://example.test/landing", rec.Header().Get("Location"))
}

func TestReportWithLongBodyDeletesChannel(t *testing.T) {
	r := newTestRouter(t, 6)
	a := strings.Repeat("a", 256)

	cid := newChannel(t, r, a)

	rec := doReq(r, http.MethodPost, "/report", map[string]string{
		hdrClientID: a,
		hdrCid:      cid,
		hdrLog:      "done",
	}, strings.Repeat("x", 3000))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: a}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteThenGetIs404(t *testing.T) {
	r := newTestRouter(t, 6)
	a := strings.Repeat("a", 256)
	cid := newChannel(t, r, a)

	rec := doReq(r, http.MethodDelete, "/"+cid, map[string]string{hdrClientID: a}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(r, http.MethodGet, "/"+cid, map[string]string{hdrClientID: a}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
