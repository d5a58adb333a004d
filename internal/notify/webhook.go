package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook posts transfer notices to an external endpoint.
type Webhook struct {
	url        string
	httpClient *http.Client
	userAgent  string
}

// NewWebhook returns nil when url is empty, which disables delivery.
func NewWebhook(url string, timeout time.Duration, userAgent string) *Webhook {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, httpClient: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

// SendTransfer delivers one notice. Any non-2xx status is an error.
func (w *Webhook) SendTransfer(ctx context.Context, notice TransferNotice) error {
	if w == nil {
		return nil
	}
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transfer webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("transfer webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
