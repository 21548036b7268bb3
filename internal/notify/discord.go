package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/BTreeMap/TruthWatch/internal/models"
)

const (
	// RateLimitCalls bounds webhook executions per RateLimitWindow.
	RateLimitCalls = 30
	// RateLimitWindow is the rolling window for the outbound rate limit.
	RateLimitWindow = time.Minute
	// DefaultRetryAfter is used when a 429 response carries no usable
	// retry_after value.
	DefaultRetryAfter = 5 * time.Second
	// MaxAttachmentBytes bounds a single media download.
	MaxAttachmentBytes = 25 << 20
)

// Discord delivers messages to a Discord webhook.
type Discord struct {
	webhookURL string
	username   string
	client     *http.Client
	limiter    *rate.Limiter
}

// Compile-time check that Discord implements Notifier.
var _ Notifier = (*Discord)(nil)

// NewDiscord builds a webhook notifier. The limiter spaces executions so at
// most RateLimitCalls happen per RateLimitWindow; when the budget is spent,
// Deliver blocks until capacity is available.
func NewDiscord(webhookURL, username string, timeout time.Duration) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(RateLimitWindow/RateLimitCalls), 1),
	}
}

// webhookFile is a downloaded attachment ready for multipart upload.
type webhookFile struct {
	name string
	data []byte
}

// Deliver sends the message and its attachments as one webhook execution.
// A 429 from Discord is retried exactly once after the suggested wait; any
// other failure, or a second 429, surfaces to the caller.
func (d *Discord) Deliver(ctx context.Context, content string, media []models.MediaAttachment) error {
	if content == "" {
		slog.Warn("Discord.Deliver: empty message, skipping notification")
		return nil
	}

	// Blocking throttle, not a failure: suspends the caller until the
	// rolling-window budget has room.
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait aborted: %w", err)
	}

	files := d.downloadMedia(ctx, media)

	slog.Info("Discord.Deliver: executing webhook", "attachments", len(files))
	status, body, err := d.execute(ctx, content, files)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		wait := retryAfter(body)
		slog.Warn("Discord.Deliver: rate limited by Discord, retrying once", "retry_after", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		status, body, err = d.execute(ctx, content, files)
		if err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		if status == http.StatusBadRequest {
			slog.Error("Discord.Deliver: webhook rejected payload", "status", status, "message_length", len(content), "body", truncateForLog(body))
		}
		return fmt.Errorf("discord returned status %d: %s", status, truncateForLog(body))
	}
	slog.Info("Discord.Deliver: message sent")
	return nil
}

// execute performs one webhook round trip. The multipart body is rebuilt on
// each call so a retry does not reuse a consumed reader.
func (d *Discord) execute(ctx context.Context, content string, files []webhookFile) (int, []byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	payload, err := json.Marshal(map[string]string{
		"content":  content,
		"username": d.username,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	if err := w.WriteField("payload_json", string(payload)); err != nil {
		return 0, nil, fmt.Errorf("failed to write webhook payload: %w", err)
	}
	for i, f := range files {
		part, err := w.CreateFormFile(fmt.Sprintf("files[%d]", i), f.name)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to add attachment %s: %w", f.name, err)
		}
		if _, err := part.Write(f.data); err != nil {
			return 0, nil, fmt.Errorf("failed to write attachment %s: %w", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return 0, nil, fmt.Errorf("failed to finalize webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, &buf)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, body, nil
}

// downloadMedia fetches each relayable attachment. A failed download is
// logged and skipped; the delivery still goes out with whatever succeeded.
func (d *Discord) downloadMedia(ctx context.Context, media []models.MediaAttachment) []webhookFile {
	var files []webhookFile
	for _, m := range media {
		if !m.Relayable() {
			continue
		}
		u := m.BestURL()
		if u == "" {
			continue
		}
		f, err := d.downloadFile(ctx, u)
		if err != nil {
			slog.Error("Discord.downloadMedia: skipping attachment", "url", u, "error", err)
			continue
		}
		files = append(files, f)
	}
	return files
}

func (d *Discord) downloadFile(ctx context.Context, rawURL string) (webhookFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return webhookFile{}, fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return webhookFile{}, fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return webhookFile{}, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentBytes))
	if err != nil {
		return webhookFile{}, fmt.Errorf("failed to read media body: %w", err)
	}
	name := attachmentName(rawURL, resp.Header.Get("Content-Type"))
	return webhookFile{name: name, data: data}, nil
}

// attachmentName derives a filename from the URL path and makes sure the
// extension matches the served content type, so Discord renders it inline.
func attachmentName(rawURL, contentType string) string {
	name := "attachment"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	lower := strings.ToLower(name)
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "image/jpeg") && !strings.HasSuffix(lower, ".jpg") && !strings.HasSuffix(lower, ".jpeg"):
		name += ".jpg"
	case strings.Contains(ct, "image/png") && !strings.HasSuffix(lower, ".png"):
		name += ".png"
	case strings.Contains(ct, "image/gif") && !strings.HasSuffix(lower, ".gif"):
		name += ".gif"
	case strings.HasPrefix(ct, "video/") && !strings.HasSuffix(lower, ".mp4") && !strings.HasSuffix(lower, ".mov") && !strings.HasSuffix(lower, ".webm"):
		name += ".mp4"
	}
	return name
}

// retryAfter reads Discord's suggested wait from a 429 body.
func retryAfter(body []byte) time.Duration {
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &rl); err != nil || rl.RetryAfter <= 0 {
		return DefaultRetryAfter
	}
	return time.Duration(rl.RetryAfter * float64(time.Second))
}

func truncateForLog(body []byte) string {
	s := string(body)
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}
