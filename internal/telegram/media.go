package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harun/printdesk/pkg/router"
)

// DefaultMaxMediaBytes matches the Bot API download limit
const DefaultMaxMediaBytes = 20 * 1024 * 1024

// Download fetches the bytes of the event's attachment
func (b *Bot) Download(ctx context.Context, e router.Event) ([]byte, error) {
	if e.Attachment == nil || e.Attachment.FileID == "" {
		return nil, fmt.Errorf("message %s has no downloadable attachment", e.MessageID)
	}

	limit := b.config.MaxMediaBytes
	if limit <= 0 {
		limit = DefaultMaxMediaBytes
	}

	if e.Attachment.Size > limit {
		return nil, fmt.Errorf("file size %d exceeds maximum %d", e.Attachment.Size, limit)
	}

	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: e.Attachment.FileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	if int64(file.FileSize) > limit {
		return nil, fmt.Errorf("file size %d exceeds maximum %d", file.FileSize, limit)
	}

	data, err := b.fetch(ctx, b.fileURL(file), limit)
	if err != nil {
		return nil, err
	}

	b.logger.Debug().
		Str("file_id", e.Attachment.FileID).
		Int("size", len(data)).
		Msg("File downloaded")

	return data, nil
}

// fetch downloads url, failing when the body is larger than limit
func (b *Bot) fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file exceeds maximum %d bytes", limit)
	}

	return data, nil
}
