package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

// DiscordMessageLimit is the maximum length of a webhook message.
const DiscordMessageLimit = 2000

// DiscordNotifier posts payloads to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	username   string
	httpClient *http.Client
}

// NewDiscordNotifier creates a notifier for the given webhook URL.
func NewDiscordNotifier(webhookURL, username string) (*DiscordNotifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	return &DiscordNotifier{
		webhookURL: webhookURL,
		username:   username,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name implements Publisher.
func (n *DiscordNotifier) Name() string {
	return "discord"
}

// Publish posts the plain text payload. A non-empty channel overrides the
// configured webhook URL.
func (n *DiscordNotifier) Publish(ctx context.Context, p render.Payload, channel string) (Ack, error) {
	url := n.webhookURL
	if channel != "" {
		url = channel
	}

	body := map[string]string{"content": truncate(p.Text, DiscordMessageLimit)}
	if n.username != "" {
		body["username"] = n.username
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Ack{}, Permanent(n.Name(), fmt.Errorf("marshaling payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return Ack{}, Permanent(n.Name(), fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Ack{}, Transient(n.Name(), fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return Ack{}, classifyStatus(n.Name(), resp.StatusCode, respBody)
	}

	return Ack{Publisher: n.Name(), At: time.Now()}, nil
}
