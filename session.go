package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/scrybble-go/internal/api"
	"github.com/tonimelisma/scrybble-go/internal/auth"
	"github.com/tonimelisma/scrybble-go/internal/config"
	"github.com/tonimelisma/scrybble-go/internal/tokenfile"
)

// errNotLoggedIn is returned by commands that need a session when none is
// stored or the stored one was rejected.
var errNotLoggedIn = errors.New("not logged in, run 'scrybble login' first")

// Session holds the authenticated collaborators for one invocation: the token
// store, the API client reading it, and the engine that writes it.
type Session struct {
	Tokens *tokenfile.Store
	Client *api.Client
	Engine *auth.Engine
}

// newSession opens the token file and builds the client and engine from the
// resolved config. It does not contact the server.
func newSession(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	tokenPath := config.TokenPath()
	if tokenPath == "" {
		return nil, errors.New("cannot determine token path: no home directory")
	}

	store, err := tokenfile.Open(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("opening token file: %w", err)
	}

	client := newAPIClient(cfg, store, logger)

	engine := auth.NewEngine(auth.EngineConfig{
		API:    client,
		Tokens: store,
		Logger: logger,
	})

	return &Session{Tokens: store, Client: client, Engine: engine}, nil
}

// newAPIClient builds the API client. A requests_per_second of zero turns
// pacing off.
func newAPIClient(cfg *config.Config, tokens api.TokenSource, logger *slog.Logger) *api.Client {
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = -1
	}

	return api.NewClient(api.ClientConfig{
		BaseURL:           cfg.ServerURL(),
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		HTTPClient:        newHTTPClient(cfg.ConnectTimeoutDuration(), cfg.DataTimeoutDuration()),
		Tokens:            tokens,
		Logger:            logger,
		UserAgent:         userAgent(cfg),
		RequestsPerSecond: rps,
		Burst:             cfg.RequestBurst,
	})
}

func userAgent(cfg *config.Config) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}

	return "scrybble-go/" + version
}

// newHTTPClient bounds connection setup by connect and each response by
// data. Archive downloads read through the same client, so data must cover a
// whole archive.
func newHTTPClient(connect, data time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = data

	return &http.Client{Transport: transport, Timeout: data}
}

// requireAuth validates the stored token, refreshing it once if the server
// rejects it.
func (s *Session) requireAuth(ctx context.Context) error {
	if err := s.Engine.InitializeAuth(ctx); err != nil {
		if api.StatusCode(err) == http.StatusUnauthorized {
			return errNotLoggedIn
		}

		return err
	}

	if !s.Engine.IsAuthenticated() {
		return errNotLoggedIn
	}

	return nil
}

// Close stops any background work the engine started.
func (s *Session) Close() {
	s.Engine.Close()
}
