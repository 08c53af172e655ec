//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/scrybble-go/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))
	testutil.ValidateAllowlist("SCRYBBLE_TEST_ACCOUNT")

	tmpDir, err := os.MkdirTemp("", "scrybble-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "scrybble")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	cleanup := setupIsolation()
	code := m.Run()

	cleanup()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := runCLIRaw(args...)
	if err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func runCLIRaw(args ...string) (string, string, error) {
	cmd := exec.Command(binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func TestE2E_Whoami(t *testing.T) {
	stdout, _ := runCLI(t, "--json", "whoami")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))

	assert.Equal(t, os.Getenv("SCRYBBLE_TEST_ACCOUNT"), out["email"])
	assert.Contains(t, out, "server")
}

func TestE2E_LsRoot(t *testing.T) {
	stdout, _ := runCLI(t, "--json", "ls", "/")

	var tree struct {
		CWD   string           `json:"cwd"`
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &tree))
	assert.Equal(t, "/", tree.CWD)
}

func TestE2E_History(t *testing.T) {
	stdout, _ := runCLI(t, "history")
	assert.True(t,
		strings.Contains(stdout, "Page 1 of") || strings.Contains(stdout, "No sync requests yet."),
		"unexpected history output: %s", stdout)
}

// TestE2E_SyncTwice syncs into a fresh vault, then checks that a second run
// finds nothing new and the ledger matches the files on disk.
func TestE2E_SyncTwice(t *testing.T) {
	vault := t.TempDir()

	_, stderr, err := runCLIRaw("--vault", vault, "sync")
	if err != nil {
		// Exit code 2 is a partial failure; anything else is fatal.
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr, "stderr: %s", stderr)
		require.Equal(t, 2, exitErr.ExitCode(), "stderr: %s", stderr)
	}

	if err == nil {
		_, stderr = runCLI(t, "--vault", vault, "sync")
		assert.Contains(t, stderr, "Everything is up to date")
	}

	stdout, _ := runCLI(t, "--vault", vault, "--json", "status")

	var status struct {
		SyncFolder string `json:"sync_folder"`
		Files      []struct {
			Filename string `json:"filename"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &status))

	for _, f := range status.Files {
		name := strings.TrimPrefix(f.Filename, "/")
		matches, globErr := filepath.Glob(filepath.Join(vault, status.SyncFolder, filepath.Dir(name), "*.pdf"))
		require.NoError(t, globErr)
		assert.NotEmpty(t, matches, "no PDF on disk for %s", f.Filename)
	}
}

func TestE2E_ConfigReloadWithoutWatcher(t *testing.T) {
	_, stderr, err := runCLIRaw("config", "reload")
	require.Error(t, err)
	assert.Contains(t, stderr, "no running sync --watch")
}
