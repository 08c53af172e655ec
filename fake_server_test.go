package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/scrybble-go/internal/api"
	"github.com/tonimelisma/scrybble-go/internal/config"
	"github.com/tonimelisma/scrybble-go/internal/tokenfile"
)

// fakeServer stands in for a self-hosted server. Only requests carrying the
// current access token are served; the token endpoint rotates it.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu          stdsync.Mutex
	accessToken string
	nextSyncID  int64
	delta       []api.SyncDelta
	archives    map[string][]byte // download path -> zip
	history     api.HistoryPage
	tree        api.FileTree
	requested   []string
	downloads   []string
	refreshes   int
	rejectOnce  map[string]bool // paths answering 401 once
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		t:           t,
		accessToken: "access-1",
		nextSyncID:  100,
		archives:    make(map[string][]byte),
		rejectOnce:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sync/user", f.authed(f.handleUser))
	mux.HandleFunc("GET /api/sync/delta", f.authed(f.handleDelta))
	mux.HandleFunc("GET /api/sync/inspect-sync", f.authed(f.handleHistory))
	mux.HandleFunc("POST /api/sync/RMFileTree", f.authed(f.handleTree))
	mux.HandleFunc("POST /api/sync/file", f.authed(f.handleRequestSync))
	mux.HandleFunc("POST /api/sync/status", f.authed(f.handleStatus))
	mux.HandleFunc("POST /oauth/token", f.handleToken)
	mux.HandleFunc("GET /download/{name}", f.handleDownload)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

// login saves a token for the isolated environment and writes a config file
// pointing at the server. It returns the config path and the vault dir.
func (f *fakeServer) login(t *testing.T, home string) (string, string) {
	t.Helper()

	vault := t.TempDir()

	require.NoError(t, tokenfile.Save(config.TokenPath(), &oauth2.Token{
		AccessToken:  f.currentToken(),
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil))

	cfgPath := writeConfigFile(t, home, fmt.Sprintf(`self_hosted = true
endpoint = %q
client_secret = "shh"
vault_dir = %q
tick_interval = "100ms"
requests_per_second = 0
`, f.srv.URL, vault))

	return cfgPath, vault
}

func (f *fakeServer) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.accessToken
}

// addDocument publishes a rendered document in the change list.
func (f *fakeServer) addDocument(t *testing.T, filename string, syncID int64) {
	t.Helper()

	name := strconv.FormatInt(syncID, 10) + ".zip"
	base := path.Base(filename)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.archives[name] = buildTestZip(t, map[string]string{
		base + "_remarks.pdf":  "%PDF " + filename,
		base + "_obsidian.md":  "# " + base,
		"metadata/ignored.txt": "x",
	})
	f.delta = append(f.delta, api.SyncDelta{
		ID:          syncID,
		DownloadURL: f.srv.URL + "/download/" + name,
		Filename:    filename,
	})
}

func (f *fakeServer) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.downloads)
}

func (f *fakeServer) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.refreshes
}

func (f *fakeServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+f.accessToken
		reject := f.rejectOnce[r.URL.Path]
		delete(f.rejectOnce, r.URL.Path)
		f.mu.Unlock()

		if !ok || reject {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Unauthenticated."}`))

			return
		}

		next(w, r)
	}
}

func (f *fakeServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.t.Errorf("encoding response: %v", err)
	}
}

func (f *fakeServer) handleUser(w http.ResponseWriter, _ *http.Request) {
	f.writeJSON(w, map[string]any{
		"user": map[string]any{
			"id":         7,
			"name":       "Ada",
			"email":      "ada@example.com",
			"created_at": "2024-01-02T03:04:05.000000Z",
		},
		"onboarding_state":    "ready",
		"subscription_status": map[string]bool{"exists": true, "lifetime": false},
		"total_syncs":         12,
	})
}

func (f *fakeServer) handleDelta(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	delta := append([]api.SyncDelta{}, f.delta...)
	f.mu.Unlock()

	f.writeJSON(w, delta)
}

func (f *fakeServer) handleHistory(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	hp := f.history
	f.mu.Unlock()

	f.writeJSON(w, hp)
}

func (f *fakeServer) handleTree(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	tree := f.tree
	f.mu.Unlock()

	f.writeJSON(w, tree)
}

func (f *fakeServer) handleRequestSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		File string `json:"file"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.nextSyncID++
	id := f.nextSyncID
	f.requested = append(f.requested, body.File)
	f.mu.Unlock()

	// Rendering finishes at once; the status poll hands out the archive.
	f.addDocument(f.t, body.File, id)

	f.writeJSON(w, api.SyncRequest{SyncID: id, Filename: body.File})
}

func (f *fakeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SyncID int64 `json:"sync_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.writeJSON(w, api.SyncStatus{
		Completed:   true,
		ID:          body.SyncID,
		DownloadURL: f.srv.URL + "/download/" + strconv.FormatInt(body.SyncID, 10) + ".zip",
	})
}

func (f *fakeServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.refreshes++
	f.accessToken = fmt.Sprintf("access-%d", f.refreshes+1)
	tok := f.accessToken
	f.mu.Unlock()

	f.writeJSON(w, map[string]any{
		"access_token":  tok,
		"refresh_token": "refresh-next",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (f *fakeServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f.mu.Lock()
	data, ok := f.archives[name]
	f.downloads = append(f.downloads, name)
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	_, _ = w.Write(data)
}

// buildTestZip packs entries into an in-memory zip archive.
func buildTestZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for name, content := range entries {
		fw, err := zw.Create(name)
		require.NoError(t, err)

		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// sessionConfig returns a config aimed at the fake server without going
// through a config file.
func sessionConfig(t *testing.T, f *fakeServer) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.SelfHosted = true
	cfg.Endpoint = f.srv.URL
	cfg.ClientSecret = "shh"
	cfg.RequestsPerSecond = 0

	return cfg
}
