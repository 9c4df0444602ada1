package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
)

const maxDownloadBytes = 64 << 20

// downloadFile resolves a Telegram file id to its download URL and
// fetches the content.
func (a *Adapter) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := a.client.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolving file %s: %w", fileID, err)
	}
	return a.download(ctx, a.client.FileDownloadLink(file))
}

func downloadURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}
