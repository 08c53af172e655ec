package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DownloadArchive fetches the bytes behind a pre-authenticated download URL.
// No Authorization header is sent. The URL is never logged because it embeds
// credentials. maxBytes <= 0 disables the size cap.
func (c *Client) DownloadArchive(ctx context.Context, downloadURL string, maxBytes int64) ([]byte, error) {
	if downloadURL == "" {
		return nil, fmt.Errorf("api: download URL must not be empty")
	}

	resp, err := c.do(ctx, &request{method: http.MethodGet, absolute: downloadURL})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		c.logger.Error("streaming download content failed",
			slog.String("error", err.Error()),
			slog.Int("bytes_before_error", len(data)),
		)

		return nil, fmt.Errorf("api: streaming download content: %w", err)
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrArchiveTooLarge, maxBytes)
	}

	c.logger.Debug("download complete", slog.Int("bytes", len(data)))

	return data, nil
}
