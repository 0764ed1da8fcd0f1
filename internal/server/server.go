// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server assembles the standalone passkey HTTP server from its
// configuration: storage backend, account resolver, relying party service,
// routes, middleware, and lifecycle.
package server

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkey/pkg/storage"
	filestorage "github.com/jeremyhahn/go-passkey/pkg/storage/file"
	memorystorage "github.com/jeremyhahn/go-passkey/pkg/storage/memory"
	"github.com/jeremyhahn/go-passkey/pkg/webauthn"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/webauthn/http"
)

// Server is the assembled passkey HTTP server.
type Server struct {
	config     *config.Config
	logger     *logging.Logger
	backend    storage.Backend
	limiter    *ratelimit.Limiter
	service    *webauthn.Service
	httpServer *http.Server
}

// New builds a server from configuration.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(&logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	resolver := newResolver(cfg)
	repository := webauthn.NewRepository(backend, resolver)

	var challenges webauthn.ChallengeStore
	if cfg.Storage.Backend == config.BackendMemory {
		challenges = webauthn.NewMemoryChallengeStore()
	} else {
		challenges = webauthn.NewBackendChallengeStore(backend)
	}

	tokens, err := newTokenIssuer(cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	rpConfig := cfg.RelyingParty
	service, err := webauthn.NewService(&webauthn.ServiceParams{
		Config:      &rpConfig,
		Challenges:  challenges,
		Credentials: repository,
		Accounts:    resolver,
		Tokens:      tokens,
		Logger:      logger,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		})
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		backend: backend,
		limiter: limiter,
		service: service,
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// Service exposes the relying party service, for tests and embedding.
func (s *Server) Service() *webauthn.Service {
	return s.service
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.config.Metrics.Enabled {
		r.Use(metrics.Middleware)
		r.Method(http.MethodGet, s.config.Metrics.Path, promhttp.Handler())
	}

	handler := passkeyhttp.NewHandler(s.service).WithLogger(s.logger)
	r.Route("/api/v1/passkey", func(r chi.Router) {
		passkeyhttp.MountChi(r, handler, s.limiter)
	})
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("passkey server listening",
			"addr", s.httpServer.Addr,
			"rp_id", s.config.RelyingParty.RPID)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	err := s.httpServer.Shutdown(shutdownCtx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("close storage backend", "error", err.Error())
	}
}

func newBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return filestorage.New(cfg.Storage.Path)
	default:
		return memorystorage.New(), nil
	}
}

func newResolver(cfg *config.Config) webauthn.AccountResolver {
	if cfg.Accounts.Open {
		return webauthn.OpenAccountResolver{}
	}
	accounts := make([]*webauthn.Account, 0, len(cfg.Accounts.Static))
	for _, account := range cfg.Accounts.Static {
		accounts = append(accounts, &webauthn.Account{
			Identity:    account.Identity,
			DisplayName: account.DisplayName,
		})
	}
	return webauthn.NewStaticAccountResolver(accounts...)
}

func newTokenIssuer(cfg *config.Config) (webauthn.TokenIssuer, error) {
	if !cfg.Token.Enabled {
		return nil, nil
	}

	var signer crypto.Signer
	if cfg.Token.KeyFile != "" {
		key, err := loadSigningKey(cfg.Token.KeyFile)
		if err != nil {
			return nil, err
		}
		signer = key
	} else {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate token signing key: %w", err)
		}
		signer = key
	}

	return webauthn.NewJWTIssuer(signer, cfg.RelyingParty.RPID, cfg.Token.Lifetime)
}

func loadSigningKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing key %s: no PEM block", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("signing key %s: unsupported key type %T", path, key)
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("signing key %s: unrecognized key format", path)
}

// WaitForReady polls the status endpoint until the server answers or the
// timeout elapses.
func WaitForReady(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := "http://" + addr + "/api/v1/passkey/status"
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not ready after %s", addr, timeout)
}
