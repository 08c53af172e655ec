package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/scrybble-go/internal/api"
	"github.com/tonimelisma/scrybble-go/internal/auth"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Scrybble",
		Long: `Sign in with the device code flow: visit the printed address and enter the
code shown. Use --browser to sign in through a local browser redirect instead.`,
		RunE: runLogin,
	}

	cmd.Flags().Bool("browser", false, "sign in through the browser (authorization code + PKCE)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved authentication tokens",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	sess, err := newSession(cc.Cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	// A stale token must not short-circuit a fresh login.
	if err := sess.Engine.InitializeAuth(cmd.Context()); err != nil {
		logger.Debug("stored session not usable", slog.String("error", err.Error()))
	}

	if sess.Engine.IsAuthenticated() {
		statusf(cc.Flags.Quiet, "Already logged in as %s.\n", sess.Engine.User().Email)
		return nil
	}

	ctx := shutdownContext(cmd.Context(), logger)

	browser, err := cmd.Flags().GetBool("browser")
	if err != nil {
		return err
	}

	if browser {
		err = loginWithBrowser(ctx, sess, logger)
	} else {
		err = loginWithDeviceCode(ctx, sess, os.Stderr)
	}

	if err != nil {
		return err
	}

	user := sess.Engine.User()
	logger.Info("login successful", slog.String("email", user.Email))
	statusf(cc.Flags.Quiet, "Logged in as %s (%s).\n", user.Name, user.Email)

	return nil
}

// loginWithDeviceCode prints the verification address and user code, then
// waits for the engine to settle. Canceling ctx cancels the device flow.
func loginWithDeviceCode(ctx context.Context, sess *Session, w io.Writer) error {
	dc, err := sess.Engine.InitiateDeviceFlow(ctx)
	if err != nil {
		return fmt.Errorf("starting login: %w", err)
	}

	// The prompt must always be visible; --quiet does not apply.
	fmt.Fprintf(w, "To sign in, visit: %s\n", dc.VerificationURI)
	fmt.Fprintf(w, "Enter code: %s\n", dc.UserCode)

	state, err := sess.Engine.WaitSettled(ctx)
	if err != nil {
		if cancelErr := sess.Engine.CancelDeviceFlow(); cancelErr != nil {
			return errors.Join(err, cancelErr)
		}

		return fmt.Errorf("login canceled: %w", err)
	}

	if state != auth.StateAuthenticated {
		return errors.New("login failed: the code was denied or expired")
	}

	return nil
}

func loginWithBrowser(ctx context.Context, sess *Session, logger *slog.Logger) error {
	tok, err := sess.Client.LoginWithBrowser(ctx, openBrowser)
	if err != nil {
		return fmt.Errorf("browser login: %w", err)
	}

	if err := sess.Engine.AcceptTokens(ctx, tok); err != nil {
		return fmt.Errorf("browser login: %w", err)
	}

	logger.Debug("browser login accepted")

	return nil
}

// openBrowser hands url to the desktop's opener.
func openBrowser(url string) error {
	var c *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", url)
	case "windows":
		c = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		c = exec.Command("xdg-open", url)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	go func() { _ = c.Wait() }()

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := newSession(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if sess.Tokens.AccessToken() == "" {
		statusf(cc.Flags.Quiet, "Not logged in.\n")
		return nil
	}

	if err := sess.Engine.Logout(); err != nil {
		return err
	}

	statusf(cc.Flags.Quiet, "Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	CreatedAt       string `json:"created_at"`
	OnboardingState string `json:"onboarding_state"`
	Subscribed      bool   `json:"subscribed"`
	Lifetime        bool   `json:"lifetime"`
	TotalSyncs      int    `json:"total_syncs"`
	Server          string `json:"server"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := newSession(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.requireAuth(cmd.Context()); err != nil {
		return err
	}

	user := sess.Engine.User()

	if cc.Flags.JSON {
		return printJSON(os.Stdout, whoamiOutput{
			ID:              user.ID,
			Name:            user.Name,
			Email:           user.Email,
			CreatedAt:       user.CreatedAt,
			OnboardingState: user.OnboardingState,
			Subscribed:      user.Subscribed,
			Lifetime:        user.Lifetime,
			TotalSyncs:      user.TotalSyncs,
			Server:          cc.Cfg.ServerURL(),
		})
	}

	printWhoamiText(os.Stdout, user, cc.Cfg.ServerURL())

	return nil
}

func printWhoamiText(w io.Writer, user *api.User, server string) {
	fmt.Fprintf(w, "User:         %s (%s)\n", user.Name, user.Email)
	fmt.Fprintf(w, "Server:       %s\n", server)
	fmt.Fprintf(w, "Onboarding:   %s\n", user.OnboardingState)
	fmt.Fprintf(w, "Subscription: %s\n", subscriptionLabel(user))
	fmt.Fprintf(w, "Total syncs:  %d\n", user.TotalSyncs)
}

func subscriptionLabel(user *api.User) string {
	switch {
	case user.Lifetime:
		return "lifetime"
	case user.Subscribed:
		return "active"
	default:
		return "none"
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
