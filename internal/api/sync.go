package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// RequestFileSync asks the server to process the document at path.
func (c *Client) RequestFileSync(ctx context.Context, path string) (*SyncRequest, error) {
	c.logger.Info("requesting file sync", slog.String("path", path))

	var out SyncRequest

	err := c.doJSON(ctx, &request{
		method:   http.MethodPost,
		path:     "/api/sync/file",
		jsonBody: map[string]string{"file": path},
		auth:     true,
	}, &out)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("sync request confirmed",
		slog.String("path", path),
		slog.Int64("sync_id", out.SyncID),
	)

	return &out, nil
}

// CheckStatus returns the processing status of a sync request.
func (c *Client) CheckStatus(ctx context.Context, syncID int64) (*SyncStatus, error) {
	var out SyncStatus

	err := c.doJSON(ctx, &request{
		method:   http.MethodPost,
		path:     "/api/sync/status",
		jsonBody: map[string]int64{"sync_id": syncID},
		auth:     true,
	}, &out)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched sync status",
		slog.Int64("sync_id", syncID),
		slog.Bool("completed", out.Completed),
		slog.Bool("error", out.Error),
	)

	return &out, nil
}

// SyncDelta returns every document the server has finished processing.
func (c *Client) SyncDelta(ctx context.Context) ([]SyncDelta, error) {
	c.logger.Info("fetching sync delta")

	var out []SyncDelta
	if err := c.doJSON(ctx, &request{method: http.MethodGet, path: "/api/sync/delta", auth: true}, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched sync delta", slog.Int("count", len(out)))

	return out, nil
}

// SyncHistory returns one page (1-based) of the remote sync history.
func (c *Client) SyncHistory(ctx context.Context, page int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}

	var out HistoryPage

	err := c.doJSON(ctx, &request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/sync/inspect-sync?paginated=true&page=%d", page),
		auth:   true,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// FileTree lists one directory on the tablet. An empty path lists the root.
func (c *Client) FileTree(ctx context.Context, path string) (*FileTree, error) {
	if path == "" {
		path = "/"
	}

	var out FileTree

	err := c.doJSON(ctx, &request{
		method:   http.MethodPost,
		path:     "/api/sync/RMFileTree",
		jsonBody: map[string]string{"path": path},
		auth:     true,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// FetchProfile returns the authenticated user's profile.
func (c *Client) FetchProfile(ctx context.Context) (*User, error) {
	c.logger.Info("fetching authenticated user profile")

	var ur userResponse
	if err := c.doJSON(ctx, &request{method: http.MethodGet, path: "/api/sync/user", auth: true}, &ur); err != nil {
		return nil, err
	}

	user := ur.toUser()

	c.logger.Debug("fetched user profile",
		slog.Int64("id", user.ID),
		slog.String("onboarding_state", user.OnboardingState),
	)

	return &user, nil
}
