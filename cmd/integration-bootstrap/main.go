// Signs a test account in with the device code flow and stores the token and
// server settings under .testdata/ for the E2E suite.
//
// Usage: go run ./cmd/integration-bootstrap [--config path]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/scrybble-go/internal/api"
	"github.com/tonimelisma/scrybble-go/internal/auth"
	"github.com/tonimelisma/scrybble-go/internal/config"
	"github.com/tonimelisma/scrybble-go/internal/tokenfile"
	"github.com/tonimelisma/scrybble-go/testutil"
)

func main() {
	cfgPath := flag.String("config", "", "config file naming the test server (default: environment only)")
	flag.Parse()

	if err := run(context.Background(), *cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	credDir := testutil.CredentialDir(root, false)
	if err := os.MkdirAll(credDir, tokenfile.DirPerms); err != nil {
		return fmt.Errorf("creating %s: %w", credDir, err)
	}

	cli := config.CLIOverrides{ConfigPath: cfgPath}
	if cfgPath == "" {
		// Never pick up the developer's own config file.
		cli.ConfigPath = filepath.Join(credDir, testutil.ConfigFileName)
	}

	cfg, _, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := tokenfile.Open(filepath.Join(credDir, testutil.TokenFileName))
	if err != nil {
		return err
	}

	client := api.NewClient(api.ClientConfig{
		BaseURL:      cfg.ServerURL(),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Tokens:       store,
		Logger:       logger,
		UserAgent:    "scrybble-go-bootstrap",
	})

	engine := auth.NewEngine(auth.EngineConfig{API: client, Tokens: store, Logger: logger})
	defer engine.Close()

	if err := engine.InitializeAuth(ctx); err != nil {
		logger.Warn("stored token not usable, signing in again", slog.String("error", err.Error()))
	}

	if !engine.IsAuthenticated() {
		if err := deviceLogin(ctx, engine); err != nil {
			return err
		}
	}

	user := engine.User()

	if err := store.MergeMeta(map[string]string{
		tokenfile.MetaUserName:  user.Name,
		tokenfile.MetaUserEmail: user.Email,
		tokenfile.MetaServer:    cfg.ServerURL(),
	}); err != nil {
		return err
	}

	if err := writeServerConfig(filepath.Join(credDir, testutil.ConfigFileName), &cfg.ServerConfig); err != nil {
		return err
	}

	fmt.Printf("Signed in as %s. Credentials saved in %s.\n", user.Email, credDir)

	return nil
}

func deviceLogin(ctx context.Context, engine *auth.Engine) error {
	dc, err := engine.InitiateDeviceFlow(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Go to %s and enter code: %s\n", dc.VerificationURI, dc.UserCode)

	state, err := engine.WaitSettled(ctx)
	if err != nil {
		return err
	}

	if state != auth.StateAuthenticated {
		return errors.New("authorization was denied or expired")
	}

	return nil
}

// writeServerConfig records the server keys so E2E runs hit the same server
// the token was issued by.
func writeServerConfig(path string, server *config.ServerConfig) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, tokenfile.FilePerms)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err := toml.NewEncoder(f).Encode(server); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	return f.Close()
}
