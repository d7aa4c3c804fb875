package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

const (
	telegramBaseURL = "https://api.telegram.org/bot"
	telegramTimeout = 10 * time.Second
)

// TelegramNotifier sends payloads through the Telegram Bot API.
type TelegramNotifier struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// NewTelegramNotifier creates a Telegram notifier posting to chatID by
// default.
func NewTelegramNotifier(botToken, chatID string) (*TelegramNotifier, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("chat ID is required")
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramBaseURL,
		httpClient: &http.Client{
			Timeout: telegramTimeout,
		},
	}, nil
}

// Name implements Publisher.
func (n *TelegramNotifier) Name() string {
	return "telegram"
}

// Publish sends the HTML payload to channel, a chat id.
func (n *TelegramNotifier) Publish(ctx context.Context, p render.Payload, channel string) (Ack, error) {
	if channel == "" {
		channel = n.chatID
	}

	text, mode := p.HTML, "HTML"
	if text == "" {
		text, mode = p.Text, ""
	}
	if text == "" {
		return Ack{}, Permanent(n.Name(), fmt.Errorf("message text is required"))
	}

	payload := map[string]interface{}{
		"chat_id":                  channel,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if mode != "" {
		payload["parse_mode"] = mode
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, Permanent(n.Name(), fmt.Errorf("marshaling payload: %w", err))
	}

	url := fmt.Sprintf("%s%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return Ack{}, Permanent(n.Name(), fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Ack{}, Transient(n.Name(), fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Ack{}, Transient(n.Name(), fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return Ack{}, classifyStatus(n.Name(), resp.StatusCode, body)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return Ack{}, Transient(n.Name(), fmt.Errorf("parsing response: %w", err))
	}
	if !result.OK {
		return Ack{}, Permanent(n.Name(), fmt.Errorf("telegram API error: %s", result.Description))
	}

	return Ack{
		Publisher: n.Name(),
		Channel:   channel,
		ID:        strconv.FormatInt(result.Result.MessageID, 10),
		At:        time.Now(),
	}, nil
}
