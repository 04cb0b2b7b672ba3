// Package httpapi implements the relay's URL routing, method allow-lists,
// header extraction, and JSON response shaping. It dispatches to
// internal/channel.Engine and maps relayerr.Error values to HTTP statuses
// and logging.Sink emissions.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/mozilla-services/keyexchange-relay/internal/channel"
	"github.com/mozilla-services/keyexchange-relay/internal/logging"
	"github.com/mozilla-services/keyexchange-relay/internal/relayerr"
)

// urlPattern is the relay's single dispatch regex: new_channel, report, or
// a bare channel id.
var urlPattern = regexp.MustCompile(`^/(new_channel|report|[A-Za-z0-9]+)/?$`)

const (
	hdrClientID = "X-KeyExchange-Id"
	hdrLog      = "X-KeyExchange-Log"
	hdrCid      = "X-KeyExchange-Cid"
)

// Router is the relay's top-level http.Handler.
type Router struct {
	engine *channel.Engine
	log    logging.Sink
}

// New builds a Router dispatching to engine.
func New(engine *channel.Engine, log logging.Sink) *Router {
	return &Router{engine: engine, log: log}
}

func (r *Router) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	path := req.URL.Path

	if path == "/" {
		r.serveRoot(rw, req)
		return
	}

	match := urlPattern.FindStringSubmatch(path)
	if match == nil {
		r.log.Log("no route matched "+path, 3, req, logging.SigInvalidChannelID)
		writeError(rw, relayerr.New(relayerr.NotFound, "unknown route"))
		return
	}

	route := match[1]
	switch route {
	case "new_channel":
		r.serveNewChannel(rw, req)
	case "report":
		r.serveReport(rw, req)
	default:
		r.serveChannel(rw, req, route)
	}
}

// serveRoot probes the cache then redirects to the configured landing
// page, or fails unavailable. A method mismatch on "/" is
// MethodNotAllowed.
func (r *Router) serveRoot(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(rw, relayerr.New(relayerr.MethodNotAllowed, "method not allowed"))
		return
	}

	if err := r.engine.Health(req.Context()); err != nil {
		writeError(rw, err)
		return
	}

	http.Redirect(rw, req, r.engine.RootURL(), http.StatusMovedPermanently)
}

func (r *Router) serveNewChannel(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(rw, relayerr.New(relayerr.MethodNotAllowed, "method not allowed"))
		return
	}

	clientID := req.Header.Get(hdrClientID)
	cid, err := r.engine.Create(req.Context(), clientID, req)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, http.StatusOK, cid)
}

func (r *Router) serveReport(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(rw, relayerr.New(relayerr.MethodNotAllowed, "method not allowed"))
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(rw, relayerr.New(relayerr.BadRequest, "could not read body"))
		return
	}

	clientID := req.Header.Get(hdrClientID)
	logHeader := req.Header.Get(hdrLog)
	cidHeader := req.Header.Get(hdrCid)

	if err := r.engine.Report(req.Context(), clientID, cidHeader, logHeader, body, req); err != nil {
		writeError(rw, err)
		return
	}

	writeJSON(rw, http.StatusOK, "")
}

// serveChannel dispatches GET/PUT/DELETE on a channel URL. A recognized
// channel route hit with any other method is MethodNotAllowed; NotFound is
// reserved for URLs that don't match a route at all.
func (r *Router) serveChannel(rw http.ResponseWriter, req *http.Request, cid string) {
	clientID := req.Header.Get(hdrClientID)

	switch req.Method {
	case http.MethodGet:
		r.serveGetChannel(rw, req, cid, clientID)
	case http.MethodPut:
		r.servePutChannel(rw, req, cid, clientID)
	case http.MethodDelete:
		r.serveDeleteChannel(rw, req, cid, clientID)
	default:
		rw.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(rw, relayerr.New(relayerr.MethodNotAllowed, "method not allowed"))
	}
}

func (r *Router) serveGetChannel(rw http.ResponseWriter, req *http.Request, cid, clientID string) {
	ifNoneMatch := req.Header.Get("If-None-Match")
	res, err := r.engine.Get(req.Context(), cid, clientID, ifNoneMatch, req)
	if err != nil {
		writeError(rw, err)
		return
	}

	if res.NotModified {
		rw.WriteHeader(http.StatusNotModified)
		return
	}

	rw.Header().Set("ETag", res.ETag)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write(res.Body)
}

func (r *Router) servePutChannel(rw http.ResponseWriter, req *http.Request, cid, clientID string) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(rw, relayerr.New(relayerr.BadRequest, "could not read body"))
		return
	}

	etag, err := r.engine.Put(req.Context(), cid, clientID, body, req)
	if err != nil {
		writeError(rw, err)
		return
	}

	rw.Header().Set("ETag", etag)
	rw.WriteHeader(http.StatusOK)
}

func (r *Router) serveDeleteChannel(rw http.ResponseWriter, req *http.Request, cid, clientID string) {
	if err := r.engine.Delete(req.Context(), cid, clientID, req); err != nil {
		writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

// writeError maps err to its HTTP status and writes a small JSON body. It
// does not log: client-id and channel-id rejections are logged inside
// internal/channel where they are raised, an unmatched route is logged in
// ServeHTTP, and method mismatches and cache failures are not logged.
func writeError(rw http.ResponseWriter, err error) {
	status := relayerr.StatusFor(err)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
