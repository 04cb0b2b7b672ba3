// Command keyexchange-relay starts the key-exchange rendezvous relay's
// HTTP server, wiring configuration, logging, the cache back-end, the
// channel engine, and the optional abuse-mitigation filter together, in
// the spirit of the teacher's New()/ServeHTTP composition but as a
// standalone process rather than a Traefik plugin.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
	"github.com/mozilla-services/keyexchange-relay/internal/channel"
	"github.com/mozilla-services/keyexchange-relay/internal/config"
	"github.com/mozilla-services/keyexchange-relay/internal/filtering"
	"github.com/mozilla-services/keyexchange-relay/internal/httpapi"
	"github.com/mozilla-services/keyexchange-relay/internal/logging"
)

const cachePrefix = "keyexchange:"

func main() {
	configPath := flag.String("config", "keyexchange.toml", "path to the relay's TOML configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("could not load config, using defaults", zap.Error(err), zap.String("path", *configPath))
		cfg = config.Default()
	}

	sink := logging.NewZapSink(logger)

	backend := buildBackend(cfg, logger)
	channelCache := cache.NewPrefixed(backend, cachePrefix)

	engine := channel.New(channelCache, sink, channel.Config{
		CidLen:  cfg.Keyexchange.CidLen,
		TTL:     cfg.Keyexchange.TTLDuration(),
		MaxGets: cfg.Keyexchange.MaxGets,
		RootURL: cfg.Keyexchange.RootRedirect,
	})

	router := httpapi.New(engine, sink)

	var handler http.Handler = router
	if cfg.Filtering.Use {
		f, err := filtering.New(handler, backend, filtering.Config{
			BlacklistTTL:   cfg.Filtering.BlacklistTTLDuration(),
			BrBlacklistTTL: cfg.Filtering.BrBlacklistTTLDuration(),
			Treshold:       int64(cfg.Filtering.Treshold),
			BrTreshold:     int64(cfg.Filtering.BrTreshold),
			IPQueueTTL:     cfg.Filtering.IPQueueTTLDuration(),
			Observe:        cfg.Filtering.Observe,
			Whitelist:      cfg.Filtering.IPWhitelist,
			AdminPage:      cfg.Filtering.AdminPage,
			Callback: func(addr string, req *http.Request) {
				sink.Log(addr+" blacklisted", 5, req, logging.SigBlacklistedIP)
			},
		})
		if err != nil {
			logger.Fatal("could not configure filtering layer", zap.Error(err))
		}
		handler = f
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	waitForShutdown(server, logger)
}

// buildBackend selects the remote or in-process cache per
// keyexchange.use_memory / filtering.use_memory, matching the teacher's
// CreateConfig defaults-then-override idiom.
func buildBackend(cfg *config.Config, logger *zap.Logger) cache.Cache {
	if cfg.Keyexchange.UseMemory || cfg.Filtering.UseMemory || len(cfg.Keyexchange.CacheServers) == 0 {
		return cache.NewMemory()
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Keyexchange.CacheServers[0],
	})
	logger.Info("using redis cache backend", zap.String("addr", cfg.Keyexchange.CacheServers[0]))
	return cache.NewRedis(client)
}

func waitForShutdown(server *http.Server, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
