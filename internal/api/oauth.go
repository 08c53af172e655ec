package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// deviceGrantType is the grant_type for polling the token endpoint with a
// device code (RFC 8628 section 3.4).
const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// oauthConfig builds the oauth2 configuration for the client's server.
func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:       c.baseURL + "/oauth/authorize",
			DeviceAuthURL: c.baseURL + "/oauth/device/code",
			TokenURL:      c.baseURL + "/oauth/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// oauthContext makes the oauth2 package use the client's HTTP client.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// FetchDeviceCode starts a device authorization grant.
func (c *Client) FetchDeviceCode(ctx context.Context) (*DeviceCode, error) {
	c.logger.Info("requesting device code")

	da, err := c.oauthConfig().DeviceAuth(c.oauthContext(ctx))
	if err != nil {
		return nil, c.oauthError("device code request", err)
	}

	dc := &DeviceCode{
		DeviceCode:      da.DeviceCode,
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		Interval:        time.Duration(da.Interval) * time.Second,
	}

	if !da.Expiry.IsZero() {
		dc.ExpiresIn = time.Until(da.Expiry).Round(time.Second)
	}

	c.logger.Debug("device code received",
		slog.Duration("expires_in", dc.ExpiresIn),
		slog.Duration("interval", dc.Interval),
	)

	return dc, nil
}

// tokenResponse is the token endpoint's success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`  //nolint:tagliatelle // RFC 6749
	RefreshToken string `json:"refresh_token"` //nolint:tagliatelle // RFC 6749
	TokenType    string `json:"token_type"`    //nolint:tagliatelle // RFC 6749
	ExpiresIn    int64  `json:"expires_in"`    //nolint:tagliatelle // RFC 6749
}

// oauthErrorResponse is the token endpoint's error body (RFC 6749 section 5.2).
type oauthErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"` //nolint:tagliatelle // RFC 6749
}

// PollDeviceToken makes one token request for a pending device code. While
// the user has not finished, the error is a *DeviceFlowError carrying the
// server's code (authorization_pending, slow_down, access_denied,
// expired_token). Other failures are returned as-is.
func (c *Client) PollDeviceToken(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {deviceCode},
		"client_id":   {c.clientID},
	}

	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}

	var tr tokenResponse

	err := c.doJSON(ctx, &request{method: http.MethodPost, path: "/oauth/token", form: form}, &tr)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusBadRequest || se.StatusCode == http.StatusUnauthorized) {
			var body oauthErrorResponse
			if json.Unmarshal([]byte(se.Message), &body) == nil && body.Error != "" {
				return nil, &DeviceFlowError{Code: body.Error, Description: body.Description}
			}
		}

		return nil, err
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("api: token response missing access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}

	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	return tok, nil
}

// RefreshToken exchanges a refresh token for a new token pair. When the
// server omits a new refresh token the old one is carried over.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("api: refresh token must not be empty")
	}

	c.logger.Info("refreshing access token")

	// An expired seed forces the token source to hit the token endpoint.
	seed := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}

	tok, err := c.oauthConfig().TokenSource(c.oauthContext(ctx), seed).Token()
	if err != nil {
		return nil, c.oauthError("token refresh", err)
	}

	c.logger.Debug("token refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// oauthError maps oauth2 package errors onto the client's error taxonomy.
func (c *Client) oauthError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return fmt.Errorf("api: %s: %w", op, &StatusError{
			StatusCode: re.Response.StatusCode,
			Message:    string(re.Body),
			Err:        classifyStatus(re.Response.StatusCode),
		})
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("api: %s: %w: %w", op, ErrNetworkUnreachable, err)
	}

	return fmt.Errorf("api: %s: %w", op, err)
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/callback"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to the server's authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
//
// openURL is called with the authorization URL. If it fails, the URL is
// printed to stderr so the user can open it manually. Persisting the token is
// the caller's job.
func (c *Client) LoginWithBrowser(ctx context.Context, openURL func(string) error) (*oauth2.Token, error) {
	c.logger.Info("starting browser auth flow (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, c.logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, c.logger)

	cfg := c.oauthConfig()
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("api: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	launchBrowser(authURL, openURL, c.logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	c.logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, c.oauthError("token exchange", err)
	}

	c.logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// startCallbackServer binds to 127.0.0.1:0 and starts an HTTP server with the
// given mux. Returns the server and the port it listens on.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("api: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("api: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("api: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, port, nil
}

// registerCallbackHandler adds the callback route to the mux.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// deliver hands a result to the waiting login without blocking on repeats.
func deliver(resultCh chan<- callbackResult, res callbackResult) {
	select {
	case resultCh <- res:
	default:
	}
}

func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: ErrInvalidOAuthState})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		deliver(resultCh, callbackResult{
			err: fmt.Errorf("api: authorization failed: %s: %s", errParam, q.Get("error_description")),
		})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: fmt.Errorf("api: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	deliver(resultCh, callbackResult{code: code})
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL, printing it to stderr when
// that fails.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("api: browser auth canceled: %w", ctx.Err())
	}
}

// generateState produces a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
