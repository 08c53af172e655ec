package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/scrybble-go/internal/api"
)

func TestPrintHistoryPage(t *testing.T) {
	var buf bytes.Buffer

	printHistoryPage(&buf, &api.HistoryPage{
		Items: []api.HistoryItem{
			{ID: 31, Filename: "/Journal", Completed: true, CreatedAt: "2024-01-02T03:04:05.000000Z"},
			{ID: 32, Filename: "/Broken", Error: true, CreatedAt: "not a time"},
			{ID: 33, Filename: "/Pending", CreatedAt: ""},
		},
		CurrentPage: 2,
		LastPage:    5,
		Total:       42,
	})

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Completed")
	assert.Contains(t, out, "Error")
	assert.Contains(t, out, "In progress")
	assert.Contains(t, out, "not a time")
	assert.Contains(t, out, "Page 2 of 5 (42 total)")
}

func TestPrintHistoryPage_Empty(t *testing.T) {
	var buf bytes.Buffer

	printHistoryPage(&buf, &api.HistoryPage{CurrentPage: 1, LastPage: 1})

	assert.Equal(t, "No sync requests yet.\n", buf.String())
}

func TestHistory_RejectsPageZero(t *testing.T) {
	isolateEnv(t)

	err := runCLI(t, "history", "--page", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--page must be at least 1")
}

func TestHistory_JSON(t *testing.T) {
	home := isolateEnv(t)
	srv := newFakeServer(t)
	cfgPath, _ := srv.login(t, home)

	srv.mu.Lock()
	srv.history = api.HistoryPage{
		Items:       []api.HistoryItem{{ID: 9, Filename: "/Journal", Completed: true}},
		CurrentPage: 1,
		LastPage:    1,
		Total:       1,
	}
	srv.mu.Unlock()

	out := captureStdout(t, func() {
		require.NoError(t, runCLI(t, "--config", cfgPath, "--json", "history"))
	})

	var got api.HistoryPage
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "/Journal", got.Items[0].Filename)
}

func TestWithReauth_RetriesAfterRefresh(t *testing.T) {
	home := isolateEnv(t)
	srv := newFakeServer(t)
	_, _ = srv.login(t, home)

	cfg := sessionConfig(t, srv)

	sess, err := newSession(cfg, testLogger())
	require.NoError(t, err)

	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.requireAuth(ctx))

	srv.mu.Lock()
	srv.rejectOnce["/api/sync/inspect-sync"] = true
	srv.mu.Unlock()

	hp, err := withReauth(ctx, sess, func() (*api.HistoryPage, error) {
		return sess.Client.SyncHistory(ctx, 1)
	})
	require.NoError(t, err)
	assert.NotNil(t, hp)
	assert.Equal(t, 1, srv.refreshCount())
	assert.Equal(t, srv.currentToken(), sess.Tokens.AccessToken())
}

func TestWithReauth_NonAuthErrorIsReturned(t *testing.T) {
	home := isolateEnv(t)
	srv := newFakeServer(t)
	_, _ = srv.login(t, home)

	sess, err := newSession(sessionConfig(t, srv), testLogger())
	require.NoError(t, err)

	defer sess.Close()

	boom := errors.New("boom")
	calls := 0

	_, err = withReauth(context.Background(), sess, func() (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Zero(t, srv.refreshCount())
}
