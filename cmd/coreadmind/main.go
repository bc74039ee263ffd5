// Command coreadmind wires the networking/session core into a runnable
// process: load configuration, construct the DC directory, circuit
// breaker registry, health checker, and connection pool, bring up the
// client registry and request mapper, and serve the debug/admin HTTP
// surface until an OS signal requests shutdown.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/circuitbreaker"
	"github.com/rustgram/client/clientregistry"
	"github.com/rustgram/client/dcdirectory"
	"github.com/rustgram/client/debugserver"
	"github.com/rustgram/client/health"
	"github.com/rustgram/client/internal/config"
	"github.com/rustgram/client/internal/obslog"
	"github.com/rustgram/client/pool"
	"github.com/rustgram/client/requestmapper"
	"github.com/rustgram/client/resourcemanager"
	"github.com/rustgram/client/session"
	"github.com/rustgram/client/store"
)

func main() {
	clientCfg := config.LoadClientConfigFromEnv()
	poolCfg := config.LoadPoolConfigFromEnv()

	env := os.Getenv("ENV")
	logger := obslog.New(obslog.Options{Env: env, Pretty: env == "development"})
	logger.Info().Str("env", env).Msg("coreadmind starting")

	directory := dcdirectory.New()
	breakers := circuitbreaker.NewRegistry(poolCfg.Breaker, logger)
	checker := health.New(poolCfg.Health.DegradedWindow, poolCfg.Health.ProbeTimeout)

	connPool := pool.New(poolCfg, directory, breakers, checker, connFactory, logger)
	connPool.Start()

	resources := resourcemanager.New().WithMaxConcurrent(8)
	clients := clientregistry.Global()
	dataStore := openStore(logger)
	mapper := requestmapper.New(clients, resources, dataStore, logger) // starts a jsonadapter.Adapter per created client, resumes transfers/sessions from dataStore

	srv := &http.Server{
		Addr: getEnv("DEBUG_ADDR", ":9090"),
		Handler: debugserver.New(debugserver.Deps{
			Pool:      connPool,
			Directory: directory,
			Breakers:  breakers,
			Resources: resources,
		}, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info().Str("addr", srv.Addr).Bool("use_test_dc", clientCfg.UseTestDC).Msg("debug server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("debug server failed")
		}
	}()

	<-done
	logger.Info().Msg("shutdown signal received")

	connPool.Stop()
	connPool.CloseAll()
	mapper.Shutdown()
	if err := dataStore.Close(); err != nil {
		logger.Warn().Err(err).Msg("store close failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		logger.Info().Msg("coreadmind stopped gracefully")
	}
}

// connFactory builds a session connection using a real TCP dialer. The
// MTProto cryptographic handshake itself is outside this repository's
// scope (session.Handshaker); placeholderHandshaker here only satisfies
// the interface and fails every handshake, so connections built here
// never become ready. Embedders link in a real Handshaker implementation.
func connFactory(dc dcdirectory.DCID, options []dcdirectory.Option) *session.Connection {
	return session.New(dc, options, &net.Dialer{Timeout: 10 * time.Second}, placeholderHandshaker{}, func(conn net.Conn) session.Transport {
		return placeholderTransport{}
	})
}

type placeholderHandshaker struct{}

func (placeholderHandshaker) Handshake(ctx context.Context, conn net.Conn, existing session.AuthState) (session.AuthState, error) {
	return session.AuthState{}, &net.OpError{Op: "handshake", Err: os.ErrNotExist}
}

type placeholderTransport struct{}

func (placeholderTransport) Submit(ctx context.Context, q session.Query) (session.Response, error) {
	return session.Response{}, os.ErrNotExist
}

func (placeholderTransport) Close() error { return nil }

func openStore(logger zerolog.Logger) store.Store {
	url := os.Getenv("STORE_REDIS_URL")
	if url == "" {
		return store.NewMemoryStore()
	}
	rs, err := store.NewRedisStore(url, 24*time.Hour)
	if err != nil {
		logger.Warn().Err(err).Msg("redis store init failed — falling back to in-memory store")
		return store.NewMemoryStore()
	}
	if err := rs.Ping(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("redis ping failed — falling back to in-memory store")
		return store.NewMemoryStore()
	}
	logger.Info().Msg("redis store connected")
	return rs
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
