// Package filtering implements the relay's abuse-mitigation layer: a
// per-source-address call counter, a bad-request counter, a shared TTL
// blacklist, a CIDR whitelist, observe mode, and the administrative view.
// The request-gate shape — extract a signal, consult a blocklist, count,
// threshold, forward — is grounded directly on the teacher's
// rateLimiter.ServeHTTP/rejectedTgID, generalized from a Telegram-id hit
// map to a cache-backed source-address blacklist.
package filtering

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
)

// Callback is invoked with the source address and the originating request
// when that address is newly added to the blacklist.
type Callback func(addr string, req *http.Request)

// Config holds the abuse-mitigation gate's options.
type Config struct {
	BlacklistTTL   time.Duration
	BrBlacklistTTL time.Duration
	Treshold       int64
	BrTreshold     int64
	IPQueueTTL     time.Duration
	Observe        bool
	Whitelist      []string
	AdminPage      string
	Callback       Callback
}

// Filter is the abuse-mitigation gate wrapping an inner http.Handler.
type Filter struct {
	next      http.Handler
	blacklist *Blacklist
	counter   *Counter
	brCounter *Counter
	whitelist *Whitelist
	admin     *AdminHandler

	blacklistTTL   time.Duration
	brBlacklistTTL time.Duration
	treshold       int64
	brTreshold     int64
	observe        bool
	adminPage      string
	callback       Callback
}

// New builds a Filter over the given cache-backed state. c backs the
// blacklist and both counters, so a single prefixed cache namespace can be
// shared with the channel store's back-end without collision; the
// counters' TTL window is cfg.IPQueueTTL for both the call-rate and
// bad-request counters.
func New(next http.Handler, c cache.Cache, cfg Config) (*Filter, error) {
	wl, err := NewWhitelist(cfg.Whitelist)
	if err != nil {
		return nil, err
	}

	blacklist := NewBlacklist(c)
	counter := NewCounter(c, "counter", cfg.IPQueueTTL)
	brCounter := NewCounter(c, "brcounter", cfg.IPQueueTTL)

	f := &Filter{
		next:           next,
		blacklist:      blacklist,
		counter:        counter,
		brCounter:      brCounter,
		whitelist:      wl,
		blacklistTTL:   cfg.BlacklistTTL,
		brBlacklistTTL: cfg.BrBlacklistTTL,
		treshold:       cfg.Treshold,
		brTreshold:     cfg.BrTreshold,
		observe:        cfg.Observe,
		adminPage:      normalizeAdminPage(cfg.AdminPage),
		callback:       cfg.Callback,
	}
	f.admin = NewAdminHandler(blacklist, counter, brCounter, cfg.Observe)
	return f, nil
}

func normalizeAdminPage(page string) string {
	if page == "" {
		return ""
	}
	if !strings.HasPrefix(page, "/") {
		page = "/" + page
	}
	return page
}

// sourceAddr extracts the caller's address: the first comma-separated
// token of X-Forwarded-For if present, else the transport-level remote
// address.
func sourceAddr(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

// statusCapture wraps http.ResponseWriter to record the status code
// written, the way the teacher's _start_response closure captures it.
type statusCapture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusCapture) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.status = http.StatusOK
		s.wroteHeader = true
	}
	return s.ResponseWriter.Write(b)
}

// ServeHTTP implements the abuse-mitigation gate: whitelist bypass,
// blacklist rejection (unless observing), call-rate counting and
// threshold blacklisting, and post-hoc bad-request counting.
func (f *Filter) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if f.adminPage != "" && req.URL.Path == f.adminPage {
		f.admin.ServeHTTP(rw, req)
		return
	}

	addr := sourceAddr(req)
	if addr == "" {
		http.Error(rw, "Forbidden: you don't have permission to access", http.StatusForbidden)
		return
	}

	ctx := req.Context()
	whitelisted := f.whitelist.Contains(addr)

	if !whitelisted {
		if blocked, err := f.blacklist.Contains(ctx, addr); err == nil && blocked && !f.observe {
			http.Error(rw, "Forbidden: you don't have permission to access", http.StatusForbidden)
			return
		}
		f.checkAddr(ctx, addr, req)
	}

	capture := &statusCapture{ResponseWriter: rw}
	f.next.ServeHTTP(capture, req)

	if !whitelisted && capture.status == http.StatusBadRequest {
		f.incBadRequest(ctx, addr, req)
	}
}

// checkAddr increments the call-rate counter and blacklists addr on
// threshold crossing.
func (f *Filter) checkAddr(ctx context.Context, addr string, req *http.Request) {
	n, err := f.counter.Increment(ctx, addr)
	if err != nil {
		return
	}
	if n >= f.treshold {
		if err := f.blacklist.Add(ctx, addr, f.blacklistTTL); err == nil && f.callback != nil {
			f.callback(addr, req)
		}
	}
}

// incBadRequest mirrors checkAddr for the bad-request counter.
func (f *Filter) incBadRequest(ctx context.Context, addr string, req *http.Request) {
	n, err := f.brCounter.Increment(ctx, addr)
	if err != nil {
		return
	}
	if n >= f.brTreshold {
		if err := f.blacklist.Add(ctx, addr, f.brBlacklistTTL); err == nil && f.callback != nil {
			f.callback(addr, req)
		}
	}
}
