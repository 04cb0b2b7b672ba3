// Package channel implements the relay's core: channel identifier
// allocation, two-party occupancy registration, payload storage, entity-tag
// computation, conditional GET, GET-count eviction, and the health check.
// It has no teacher analogue in bitzlato's rate-limiting plugin; it uses
// the shared cache.Cache for all state and logging.Sink for signature-tagged
// emissions.
package channel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
	"github.com/mozilla-services/keyexchange-relay/internal/logging"
	"github.com/mozilla-services/keyexchange-relay/internal/relayerr"
)

// cidAlphabet is the alphabet cids are drawn from.
const cidAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// clientIDLen is the fixed length every X-KeyExchange-Id must have.
const clientIDLen = 256

// maxAllocAttempts bounds the cid-allocation retry loop.
const maxAllocAttempts = 100

// getCounterPrefix namespaces the companion GET counter key.
const getCounterPrefix = "GET:"

// Engine implements the channel store's public operations.
type Engine struct {
	cache   cache.Cache
	log     logging.Sink
	cidLen  int
	ttl     time.Duration
	maxGets int
	rootURL string
	rng     *rand.Rand
}

// Config configures an Engine.
type Config struct {
	CidLen  int
	TTL     time.Duration
	MaxGets int
	RootURL string
}

// New builds an Engine over the given prefixed cache.
func New(c cache.Cache, log logging.Sink, cfg Config) *Engine {
	if cfg.CidLen <= 0 {
		cfg.CidLen = 4
	}
	if cfg.MaxGets <= 0 {
		cfg.MaxGets = 6
	}
	return &Engine{
		cache:   c,
		log:     log,
		cidLen:  cfg.CidLen,
		ttl:     cfg.TTL,
		maxGets: cfg.MaxGets,
		rootURL: cfg.RootURL,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ValidClientID reports whether id has the fixed length every caller must
// present.
func ValidClientID(id string) bool {
	return len(id) == clientIDLen
}

func (e *Engine) generateCid() string {
	b := make([]byte, e.cidLen)
	for i := range b {
		b[i] = cidAlphabet[e.rng.Intn(len(cidAlphabet))]
	}
	return string(b)
}

// Create allocates a fresh channel for clientID and returns its cid.
func (e *Engine) Create(ctx context.Context, clientID string, req *http.Request) (string, error) {
	if !ValidClientID(clientID) {
		e.log.Log(fmt.Sprintf("invalid X-KeyExchange-Id value (len=%d)", len(clientID)), 5, req, logging.SigInvalidClientID)
		return "", relayerr.New(relayerr.BadRequest, "invalid client id")
	}

	s := &state{
		TTL:  time.Now().Add(e.ttl).Unix(),
		IDs:  []string{clientID},
		Body: []byte("{}"),
		ETag: "",
	}
	raw, err := s.encode()
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		cid := e.generateCid()
		ok, err := e.cache.Add(ctx, cid, raw, e.ttl)
		if err != nil {
			return "", relayerr.New(relayerr.ServiceUnavailable, "cache add failed: "+err.Error())
		}
		if ok {
			return cid, nil
		}
	}
	return "", relayerr.New(relayerr.ServiceUnavailable, "could not allocate a free channel id")
}

// checkClientID implements the join/bind contract: loads the channel,
// registers a new id if there's room, and rejects/destroys on any third
// distinct id.
func (e *Engine) checkClientID(ctx context.Context, cid, clientID string, req *http.Request) (*state, error) {
	if !ValidClientID(clientID) {
		e.log.Log(fmt.Sprintf("invalid X-KeyExchange-Id value (len=%d)", len(clientID)), 5, req, logging.SigInvalidClientID)
		e.bestEffortDelete(ctx, cid, req)
		return nil, relayerr.New(relayerr.BadRequest, "invalid client id")
	}

	raw, found, err := e.cache.Get(ctx, cid)
	if err != nil {
		return nil, relayerr.New(relayerr.ServiceUnavailable, "cache get failed: "+err.Error())
	}
	if !found {
		e.log.Log("requested an invalid channel id", 5, req, logging.SigInvalidChannelID)
		return nil, relayerr.New(relayerr.NotFound, "unknown channel")
	}

	s, err := decodeState(raw)
	if err != nil {
		return nil, relayerr.New(relayerr.ServiceUnavailable, "corrupt channel state")
	}

	if len(s.IDs) < 2 {
		if s.hasID(clientID) {
			return s, nil
		}
		s.IDs = append(s.IDs, clientID)
	} else {
		if s.hasID(clientID) {
			return s, nil
		}
		e.log.Log(fmt.Sprintf("unknown X-KeyExchange-Id value joining full channel %q", cid), 5, req, logging.SigUnknownClientID)
		e.bestEffortDelete(ctx, cid, req)
		return nil, relayerr.New(relayerr.BadRequest, "channel already has two registered ids")
	}

	raw, err = s.encode()
	if err != nil {
		return nil, err
	}
	if ok, err := e.cache.Set(ctx, cid, raw, e.ttlRemaining(s)); err != nil || !ok {
		return nil, relayerr.New(relayerr.ServiceUnavailable, "cache set failed")
	}
	return s, nil
}

func (e *Engine) ttlRemaining(s *state) time.Duration {
	remaining := time.Until(time.Unix(s.TTL, 0))
	if remaining <= 0 {
		return time.Second
	}
	return remaining
}

func (e *Engine) bestEffortDelete(ctx context.Context, cid string, req *http.Request) {
	if _, err := e.deleteChannel(ctx, cid); err != nil {
		e.log.Log(fmt.Sprintf("could not delete channel %q: %v", cid, err), 5, req, logging.SigDeleteLog)
	}
}

// deleteChannel removes both the payload key and the GET counter.
// Deleting an already-absent channel is also success.
func (e *Engine) deleteChannel(ctx context.Context, cid string) (bool, error) {
	if _, err := e.cache.Delete(ctx, getCounterPrefix+cid); err != nil {
		return false, err
	}
	_, found, err := e.cache.Get(ctx, cid)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return e.cache.Delete(ctx, cid)
}

// Put replaces body and recomputes the etag.
func (e *Engine) Put(ctx context.Context, cid, clientID string, body []byte, req *http.Request) (string, error) {
	s, err := e.checkClientID(ctx, cid, clientID, req)
	if err != nil {
		return "", err
	}

	etag := computeETag(body, time.Now())
	s.Body = body
	s.ETag = etag

	raw, err := s.encode()
	if err != nil {
		return "", err
	}
	if ok, err := e.cache.Set(ctx, cid, raw, e.ttlRemaining(s)); err != nil || !ok {
		return "", relayerr.New(relayerr.ServiceUnavailable, "cache set failed")
	}
	return etag, nil
}

// computeETag hashes the body length together with a nanosecond-resolution
// timestamp, so two writes of equal-length bodies in quick succession still
// get distinct etags.
func computeETag(body []byte, now time.Time) string {
	sum := md5.Sum([]byte(strconv.Itoa(len(body)) + ":" + now.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// GetResult carries what a successful Get call returns to the router.
type GetResult struct {
	Body         []byte
	ETag         string
	NotModified  bool
	EvictedAfter bool
}

// Get reads the channel body, honouring If-None-Match, and advances the GET
// counter.
func (e *Engine) Get(ctx context.Context, cid, clientID string, ifNoneMatch string, req *http.Request) (*GetResult, error) {
	s, err := e.checkClientID(ctx, cid, clientID, req)
	if err != nil {
		return nil, err
	}

	if ifNoneMatch != "" && s.ETag != "" && matchesETag(ifNoneMatch, s.ETag) {
		return &GetResult{NotModified: true}, nil
	}

	evict, err := e.advanceGetCounter(ctx, cid)
	if err != nil {
		return nil, relayerr.New(relayerr.ServiceUnavailable, "cache counter update failed: "+err.Error())
	}

	if evict {
		e.bestEffortDelete(ctx, cid, req)
	}

	return &GetResult{Body: s.Body, ETag: s.ETag, EvictedAfter: evict}, nil
}

// matchesETag reports whether etag appears in the (possibly
// comma-separated) If-None-Match header value, or the header is "*".
func matchesETag(header, etag string) bool {
	if header == "*" {
		return true
	}
	for _, tok := range splitAndTrim(header, ',') {
		if trimQuotes(tok) == etag {
			return true
		}
	}
	return false
}

func splitAndTrim(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, trimSpace(s[start:i]))
			start = i + 1
		}
	}
	out = append(out, trimSpace(s[start:]))
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// advanceGetCounter creates the companion GET counter with value 1 if
// absent, otherwise increments it, and reports whether max_gets was just
// reached.
func (e *Engine) advanceGetCounter(ctx context.Context, cid string) (bool, error) {
	key := getCounterPrefix + cid

	raw, found, err := e.cache.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		if _, err := e.cache.Set(ctx, key, []byte("1"), e.ttl); err != nil {
			return false, err
		}
		return e.maxGets == 1, nil
	}

	count, convErr := strconv.Atoi(string(raw))
	if convErr != nil {
		count = 0
	}
	if count+1 >= e.maxGets {
		return true, nil
	}
	if _, _, err := e.cache.Incr(ctx, key); err != nil {
		return false, err
	}
	return false, nil
}

// Delete evicts the channel's payload and GET counter. Absent channels
// also return success.
func (e *Engine) Delete(ctx context.Context, cid, clientID string, req *http.Request) error {
	if _, err := e.checkClientID(ctx, cid, clientID, req); err != nil {
		var re *relayerr.Error
		if errors.As(err, &re) && re.Kind == relayerr.NotFound {
			return nil
		}
		return err
	}

	if _, err := e.deleteChannel(ctx, cid); err != nil {
		return relayerr.New(relayerr.ServiceUnavailable, "cache delete failed: "+err.Error())
	}
	return nil
}

// Report records a free-form log line (truncated to 2000 bytes) and
// optionally deletes a named channel.
func (e *Engine) Report(ctx context.Context, clientID, cidHeader, logHeader string, body []byte, req *http.Request) error {
	if len(body) > 2000 {
		body = body[:2000]
	}
	message := logHeader
	if len(body) > 0 {
		message += "\n" + string(body)
	}
	e.log.Log(message, 5, req, logging.SigReport)

	if clientID == "" || cidHeader == "" {
		return nil
	}

	raw, found, err := e.cache.Get(ctx, cidHeader)
	if err != nil || !found {
		return nil
	}
	s, err := decodeState(raw)
	if err != nil || !s.hasID(clientID) {
		return nil
	}

	if _, err := e.deleteChannel(ctx, cidHeader); err != nil {
		e.log.Log(fmt.Sprintf("could not delete channel %q: %v", cidHeader, err), 5, req, logging.SigDeleteLog)
	}
	return nil
}

// Health probes the cache with an add/get/delete/get sequence.
func (e *Engine) Health(ctx context.Context) error {
	key := "health_" + e.generateCid()

	ok, err := e.cache.Add(ctx, key, []byte("test"), time.Minute)
	if err != nil || !ok {
		return relayerr.New(relayerr.ServiceUnavailable, "health add failed")
	}

	val, found, err := e.cache.Get(ctx, key)
	if err != nil || !found || string(val) != "test" {
		return relayerr.New(relayerr.ServiceUnavailable, "health get mismatch")
	}

	if _, err := e.cache.Delete(ctx, key); err != nil {
		return relayerr.New(relayerr.ServiceUnavailable, "health delete failed")
	}

	_, found, err = e.cache.Get(ctx, key)
	if err != nil || found {
		return relayerr.New(relayerr.ServiceUnavailable, "health key survived deletion")
	}
	return nil
}

// RootURL returns the configured landing URL for the health redirect.
func (e *Engine) RootURL() string { return e.rootURL }
