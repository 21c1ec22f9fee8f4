package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxPackageBytes bounds a single package download.
const maxPackageBytes = 4 << 20

// HTTPDownloader fetches packages over HTTP(S). Non-2xx responses are
// errors, which the loader treats as unresolved.
type HTTPDownloader struct {
	Client *http.Client

	// UserAgent, when set, is sent with every request.
	UserAgent string
}

// NewHTTPDownloader creates a downloader with a request timeout.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{Client: &http.Client{Timeout: timeout}}
}

// DownloadResource implements Downloader.
func (d *HTTPDownloader) DownloadResource(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPackageBytes))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	return string(body), nil
}
