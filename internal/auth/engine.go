// Package auth implements the authentication engine: an observable state
// machine for the OAuth2 device authorization grant, startup token
// validation, and transparent refresh when the server answers 401.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	stdsync "sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/scrybble-go/internal/api"
	"github.com/tonimelisma/scrybble-go/internal/fsm"
)

// ErrNoRefreshToken is returned by RefreshAccessToken when no refresh token
// is stored.
var ErrNoRefreshToken = errors.New("auth: no refresh token available")

// ErrDeviceFlowCanceled is returned by InitiateDeviceFlow when the flow was
// canceled while the device code request was in flight.
var ErrDeviceFlowCanceled = errors.New("auth: device flow canceled")

const (
	// defaultInitialPollDelay gives the caller time to show the user code
	// before the first poll.
	defaultInitialPollDelay = time.Second

	// slowDownStep is added to the poll interval on every slow_down answer
	// (RFC 8628 section 3.5).
	slowDownStep = 5 * time.Second

	// minPollInterval applies when the server sends no interval.
	minPollInterval = 5 * time.Second
)

// API is the subset of the server API the engine calls.
// Satisfied by *api.Client.
type API interface {
	FetchDeviceCode(ctx context.Context) (*api.DeviceCode, error)
	PollDeviceToken(ctx context.Context, deviceCode string) (*oauth2.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context) (*api.User, error)
}

// TokenStore holds the token pair. The engine is its only writer.
// Satisfied by *tokenfile.Store.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(tok *oauth2.Token) error
	Clear() error
}

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	API    API
	Tokens TokenStore
	Logger *slog.Logger

	// InitialPollDelay is the pause between receiving the device code and the
	// start of polling. Zero selects one second.
	InitialPollDelay time.Duration
}

// Engine is the authentication state machine. All methods are safe for
// concurrent use. State change listeners run on the goroutine that caused the
// transition and must not call back into the engine inline.
type Engine struct {
	api          API
	tokens       TokenStore
	logger       *slog.Logger
	machine      *fsm.Machine[State, Event]
	initialDelay time.Duration

	// nowFunc and sleepFunc drive the poll loop. Tests replace them with a
	// fake clock.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error

	// sessionMu serializes every flow that changes the session. Only the
	// poll loop and the device code request run outside it.
	sessionMu stdsync.Mutex

	mu         stdsync.Mutex
	deviceAuth *api.DeviceCode
	user       *api.User
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	renewals   uint64
}

// NewEngine creates an engine in the INIT state.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	delay := cfg.InitialPollDelay
	if delay <= 0 {
		delay = defaultInitialPollDelay
	}

	return &Engine{
		api:          cfg.API,
		tokens:       cfg.Tokens,
		logger:       logger,
		machine:      fsm.New(transitions, StateInit),
		initialDelay: delay,
		nowFunc:      time.Now,
		sleepFunc:    timeSleep,
	}
}

// State returns the current state.
func (e *Engine) State() State {
	return e.machine.State()
}

// IsAuthenticated reports whether the engine is in AUTHENTICATED.
func (e *Engine) IsAuthenticated() bool {
	return e.State() == StateAuthenticated
}

// AddStateChangeListener registers fn for every transition and returns a
// function that removes it.
func (e *Engine) AddStateChangeListener(fn func(State)) (remove func()) {
	return e.machine.Subscribe(func(tr fsm.Transition[State, Event]) {
		fn(tr.To)
	})
}

// DeviceAuth returns the pending device code, or nil outside a device login.
func (e *Engine) DeviceAuth() *api.DeviceCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deviceAuth == nil {
		return nil
	}

	cp := *e.deviceAuth

	return &cp
}

// User returns the profile fetched on the last successful login, or nil.
func (e *Engine) User() *api.User {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.user == nil {
		return nil
	}

	cp := *e.user

	return &cp
}

// fire dispatches ev and logs the transition.
func (e *Engine) fire(ev Event, apply func() error) error {
	tr, err := e.machine.Fire(ev, apply)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	e.logger.Debug("auth state changed",
		slog.String("from", string(tr.From)),
		slog.String("event", string(ev)),
		slog.String("to", string(tr.To)),
	)

	return nil
}

// InitializeAuth validates a stored token at startup: with an access token
// the profile is fetched (refreshing once on 401), otherwise the engine
// settles in UNAUTHENTICATED.
func (e *Engine) InitializeAuth(ctx context.Context) error {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	if e.tokens.AccessToken() == "" {
		e.logger.Info("no stored token, starting logged out")

		return e.fire(EventNoTokenFoundOnStartup, nil)
	}

	if err := e.fire(EventTokenFoundOnStartup, nil); err != nil {
		return err
	}

	return e.fetchAndSetUser(ctx, true)
}

// InitiateDeviceFlow requests a device code and starts polling for the token
// in the background. The returned code is what the user must enter at the
// verification URI.
func (e *Engine) InitiateDeviceFlow(ctx context.Context) (*api.DeviceCode, error) {
	if err := e.fire(EventLoginRequested, nil); err != nil {
		return nil, err
	}

	// A loop from an earlier attempt may still be winding down.
	e.stopPolling()

	dc, err := e.api.FetchDeviceCode(ctx)
	if err != nil {
		e.logger.Error("device code request failed", slog.String("error", err.Error()))

		if fireErr := e.fire(EventDeviceCodeRequestFailed, nil); fireErr != nil {
			e.logger.Debug("device code failure not applied", slog.String("error", fireErr.Error()))
		}

		return nil, fmt.Errorf("auth: requesting device code: %w", err)
	}

	if dc.Interval <= 0 {
		dc.Interval = minPollInterval
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	err = e.fire(EventDeviceCodeReceived, func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.deviceAuth = dc
		e.cancelPoll = cancel
		e.pollDone = done

		return nil
	})
	if err != nil {
		cancel()

		if errors.Is(err, fsm.ErrInvalidTransition) {
			return nil, ErrDeviceFlowCanceled
		}

		return nil, err
	}

	e.logger.Info("device code received, waiting for user authorization",
		slog.String("verification_uri", dc.VerificationURI),
		slog.Duration("expires_in", dc.ExpiresIn),
		slog.Duration("interval", dc.Interval),
	)

	go e.pollLoop(pollCtx, *dc, done)

	cp := *dc

	return &cp, nil
}

// pollLoop polls the token endpoint until the user decides, the code
// expires, or the loop is canceled. The expiry deadline is absolute and is
// checked both before each request and after it returns, so a response that
// arrives after the deadline never re-arms the loop.
func (e *Engine) pollLoop(ctx context.Context, dc api.DeviceCode, done chan struct{}) {
	defer close(done)

	if err := e.sleepFunc(ctx, e.initialDelay); err != nil {
		return
	}

	if err := e.fire(EventPollingStarted, nil); err != nil {
		return
	}

	deadline := e.nowFunc().Add(dc.ExpiresIn)
	interval := dc.Interval

	for {
		if err := e.sleepFunc(ctx, interval); err != nil {
			return
		}

		if e.expired(deadline) {
			return
		}

		if e.State() != StatePollingForToken {
			return
		}

		tok, err := e.api.PollDeviceToken(ctx, dc.DeviceCode)

		if ctx.Err() != nil {
			return
		}

		if e.expired(deadline) {
			return
		}

		if e.State() != StatePollingForToken {
			return
		}

		if err == nil {
			e.receiveDeviceToken(ctx, tok)

			return
		}

		var dfe *api.DeviceFlowError
		if !errors.As(err, &dfe) {
			// Transport or server trouble: keep polling until the deadline.
			e.logger.Warn("device token poll failed", slog.String("error", err.Error()))

			continue
		}

		switch dfe.Code {
		case api.DeviceAuthorizationPending:
			continue
		case api.DeviceSlowDown:
			interval += slowDownStep
			e.logger.Debug("server asked to slow down", slog.Duration("interval", interval))

			continue
		case api.DeviceAccessDenied:
			e.logger.Info("user denied device authorization")
			e.endDeviceFlow(EventAuthorizationDenied)
		case api.DeviceExpiredToken:
			e.logger.Warn("device code expired")
			e.endDeviceFlow(EventAuthorizationExpired)
		default:
			e.logger.Error("unexpected device flow error", slog.String("error", dfe.Error()))
			e.endDeviceFlow(EventAuthorizationDenied)
		}

		return
	}
}

// expired ends the device flow when the deadline has passed.
func (e *Engine) expired(deadline time.Time) bool {
	if e.nowFunc().Before(deadline) {
		return false
	}

	e.logger.Warn("device authorization expired")
	e.endDeviceFlow(EventAuthorizationExpired)

	return true
}

// endDeviceFlow clears the device code and applies a terminal poll event. A
// failure means the flow was already canceled, which is fine.
func (e *Engine) endDeviceFlow(ev Event) {
	err := e.fire(ev, func() error {
		e.clearDeviceAuth()
		return nil
	})
	if err != nil {
		e.logger.Debug("device flow already finished", slog.String("event", string(ev)))
	}
}

// clearDeviceAuth drops the device code. Callers must not hold e.mu.
func (e *Engine) clearDeviceAuth() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.deviceAuth = nil
}

// receiveDeviceToken persists the tokens together with the state change so a
// cancel racing the response cannot leave tokens behind in a logged-out
// engine.
func (e *Engine) receiveDeviceToken(ctx context.Context, tok *oauth2.Token) {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	err := e.fire(EventAccessTokenReceived, func() error {
		if err := e.tokens.SetTokens(tok); err != nil {
			return fmt.Errorf("auth: saving tokens: %w", err)
		}

		e.clearDeviceAuth()

		return nil
	})
	if err != nil {
		e.logger.Error("could not accept device token", slog.String("error", err.Error()))

		if errors.Is(err, fsm.ErrInvalidTransition) {
			return
		}

		e.endDeviceFlow(EventAuthorizationDenied)

		return
	}

	e.logger.Info("device authorization granted")

	if err := e.fetchAndSetUser(ctx, true); err != nil {
		e.logger.Error("login finished without a user profile", slog.String("error", err.Error()))
	}
}

// fetchAndSetUser loads the profile in FETCHING_USER. On a 401 with a stored
// refresh token, and only when attemptRefresh is set, one refresh is tried
// before giving up. Caller holds sessionMu.
func (e *Engine) fetchAndSetUser(ctx context.Context, attemptRefresh bool) error {
	user, err := e.api.FetchProfile(ctx)
	if err == nil {
		return e.fire(EventUserFetched, func() error {
			e.mu.Lock()
			defer e.mu.Unlock()

			e.user = user

			return nil
		})
	}

	e.logger.Error("failed to fetch user profile", slog.String("error", err.Error()))

	if fireErr := e.fire(EventUserFetchFailed, nil); fireErr != nil {
		return errors.Join(err, fireErr)
	}

	if attemptRefresh {
		return e.recoverSession(ctx, err)
	}

	return fmt.Errorf("auth: fetching user: %w", err)
}

// RefreshToken is the 401 recovery path for any component that saw cause.
// For an HTTP 401 with a stored refresh token it refreshes once and reloads
// the profile; if that fails the session is dropped. Any other cause is
// returned unchanged. Concurrent callers are serialized: one that waited while
// another renewed the session returns nil without refreshing again.
func (e *Engine) RefreshToken(ctx context.Context, cause error) error {
	if api.StatusCode(cause) != http.StatusUnauthorized {
		return cause
	}

	seen := e.renewalCount()

	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	if e.renewalCount() != seen && e.State() == StateAuthenticated {
		e.logger.Debug("session renewed by another caller")
		return nil
	}

	return e.recoverSession(ctx, cause)
}

// recoverSession refreshes after a 401. Caller holds sessionMu.
func (e *Engine) recoverSession(ctx context.Context, cause error) error {
	if api.StatusCode(cause) != http.StatusUnauthorized || e.tokens.RefreshToken() == "" {
		return cause
	}

	e.logger.Warn("got 401, refreshing access token")

	if err := e.refreshAccessToken(ctx); err != nil {
		// A device login in progress owns the session.
		if errors.Is(err, fsm.ErrInvalidTransition) {
			return cause
		}

		e.logger.Error("session lost, please log in again", slog.String("error", err.Error()))
		e.dropSession()

		return fmt.Errorf("auth: session expired: %w", cause)
	}

	e.mu.Lock()
	e.renewals++
	e.mu.Unlock()

	return nil
}

func (e *Engine) renewalCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.renewals
}

// RefreshAccessToken exchanges the stored refresh token for a new pair and
// reloads the profile. On refresh failure the tokens are cleared and the
// engine ends in UNAUTHENTICATED.
func (e *Engine) RefreshAccessToken(ctx context.Context) error {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	return e.refreshAccessToken(ctx)
}

func (e *Engine) refreshAccessToken(ctx context.Context) error {
	if err := e.fire(EventAccessTokenExpired, nil); err != nil {
		return err
	}

	rt := e.tokens.RefreshToken()
	if rt == "" {
		if err := e.fire(EventRefreshFailure, e.forgetSession); err != nil {
			return errors.Join(ErrNoRefreshToken, err)
		}

		return ErrNoRefreshToken
	}

	tok, err := e.api.RefreshToken(ctx, rt)
	if err == nil {
		err = e.fire(EventRefreshSuccess, func() error {
			if saveErr := e.tokens.SetTokens(tok); saveErr != nil {
				return fmt.Errorf("auth: saving refreshed tokens: %w", saveErr)
			}

			return nil
		})
	}

	if err != nil {
		e.logger.Error("token refresh failed", slog.String("error", err.Error()))

		if fireErr := e.fire(EventRefreshFailure, e.forgetSession); fireErr != nil {
			e.logger.Debug("refresh failure not applied", slog.String("error", fireErr.Error()))
		}

		return fmt.Errorf("auth: refreshing token: %w", err)
	}

	e.logger.Info("access token refreshed")

	return e.fetchAndSetUser(ctx, false)
}

// clearSession forgets the user and deletes the stored tokens. Tokens are
// only cleared together with a move to UNAUTHENTICATED, or while already
// there, so it runs as a transition's apply step.
func (e *Engine) clearSession() error {
	e.mu.Lock()
	e.user = nil
	e.mu.Unlock()

	if err := e.tokens.Clear(); err != nil {
		return fmt.Errorf("auth: clearing tokens: %w", err)
	}

	return nil
}

// forgetSession is clearSession for transitions that must not be aborted by
// a storage error.
func (e *Engine) forgetSession() error {
	if err := e.clearSession(); err != nil {
		e.logger.Error("clearing tokens failed", slog.String("error", err.Error()))
	}

	return nil
}

// dropSession ends the session after a failed recovery. Caller holds
// sessionMu.
func (e *Engine) dropSession() {
	switch {
	case e.machine.Can(EventLogoutRequested):
		if err := e.fire(EventLogoutRequested, e.forgetSession); err != nil {
			e.logger.Debug("logout not applied", slog.String("error", err.Error()))
		}
	case e.State() == StateUnauthenticated:
		_ = e.forgetSession()
	default:
		e.logger.Debug("keeping tokens, a login owns the session", slog.String("state", string(e.State())))
	}
}

// AcceptTokens logs in with tokens obtained outside the device flow (the
// browser PKCE login) and loads the profile.
func (e *Engine) AcceptTokens(ctx context.Context, tok *oauth2.Token) error {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	err := e.fire(EventTokensAccepted, func() error {
		if err := e.tokens.SetTokens(tok); err != nil {
			return fmt.Errorf("auth: saving tokens: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return e.fetchAndSetUser(ctx, true)
}

// CancelDeviceFlow stops polling, clears the device code, and moves to
// UNAUTHENTICATED from any device-flow state. Outside a device flow it does
// nothing.
func (e *Engine) CancelDeviceFlow() error {
	e.stopPolling()
	e.clearDeviceAuth()

	if !e.State().inDeviceFlow() {
		return nil
	}

	err := e.fire(EventDeviceFlowCanceled, nil)
	if err != nil && e.State().settled() {
		// The flow finished on its own while we were stopping it.
		return nil
	}

	return err
}

// stopPolling cancels the poll loop and waits for it to exit. It must not be
// called from a state change listener.
func (e *Engine) stopPolling() {
	e.mu.Lock()
	cancel, done := e.cancelPoll, e.pollDone
	e.cancelPoll, e.pollDone = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Logout stops any device login, clears tokens and the user, and moves to
// UNAUTHENTICATED. A refresh or profile load in progress finishes first.
func (e *Engine) Logout() error {
	e.stopPolling()
	e.clearDeviceAuth()

	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	var err error

	switch {
	case e.machine.Can(EventLogoutRequested):
		err = e.fire(EventLogoutRequested, e.clearSession)
	case e.State().inDeviceFlow():
		err = e.fire(EventDeviceFlowCanceled, e.clearSession)
	default:
		err = e.clearSession()
	}

	if err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}

	e.logger.Info("logged out")

	return nil
}

// WaitSettled blocks until the engine reaches AUTHENTICATED or
// UNAUTHENTICATED, or ctx is done.
func (e *Engine) WaitSettled(ctx context.Context) (State, error) {
	wake := make(chan struct{}, 1)

	remove := e.AddStateChangeListener(func(State) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer remove()

	for {
		s := e.State()
		if s.settled() {
			return s, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Close stops background polling.
func (e *Engine) Close() {
	e.stopPolling()
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
