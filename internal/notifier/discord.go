package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	HTTPClient *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// AcquisitionFinished renders the message for a successful acquisition.
func AcquisitionFinished(res *acquisition.Result) string {
	var total int64
	for _, f := range res.Files {
		total += f.Size
	}

	msg := fmt.Sprintf("✅ Acquisition finished: %s (%d files, %s)", res.Name, len(res.Files), humanize.IBytes(uint64(total)))
	if res.Failed > 0 {
		msg += fmt.Sprintf(", %d links failed", res.Failed)
	}

	return msg
}

// AcquisitionFailed renders the message for a failed acquisition.
func AcquisitionFailed(name string, err error) string {
	return fmt.Sprintf("❌ Acquisition failed for %s (%s): %v", name, acquisition.Outcome(err), err)
}
