package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.telegram.org"

// BotAPI is a minimal Telegram Bot API client used for operator alerts.
type BotAPI struct {
	token  string
	client *resty.Client
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// NewBotAPI creates a client for the public Bot API endpoint.
func NewBotAPI(token string) *BotAPI {
	return NewBotAPIWithBaseURL(token, defaultBaseURL)
}

// NewBotAPIWithBaseURL targets another Bot API server, such as a local one.
func NewBotAPIWithBaseURL(token, baseURL string) *BotAPI {
	return &BotAPI{
		token:  token,
		client: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/") + "/bot" + token),
	}
}

// Enabled reports whether a token is configured.
func (b *BotAPI) Enabled() bool {
	return b != nil && b.token != ""
}

// Call makes a raw API call to the Telegram Bot API.
func (b *BotAPI) Call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	var out apiResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		SetResult(&out).
		SetError(&out).
		Post("/" + method)
	if err != nil {
		return nil, fmt.Errorf("telegram API call %s failed: %w", method, err)
	}
	if !out.OK {
		desc := out.Description
		if desc == "" {
			desc = resp.Status()
		}
		return nil, fmt.Errorf("telegram API call %s failed: %s", method, desc)
	}
	return out.Result, nil
}

// SendMessage sends an HTML text message.
func (b *BotAPI) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := b.Call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	return err
}

// SendDocument uploads a file with an optional caption.
func (b *BotAPI) SendDocument(ctx context.Context, chatID string, fileData []byte, filename, caption string) error {
	var out apiResponse
	_, err := b.client.R().
		SetContext(ctx).
		SetFileReader("document", filename, bytes.NewReader(fileData)).
		SetFormData(map[string]string{
			"chat_id":    chatID,
			"caption":    caption,
			"parse_mode": "HTML",
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sendDocument")
	if err != nil {
		return fmt.Errorf("telegram API call sendDocument failed: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram API call sendDocument failed: %s", out.Description)
	}
	return nil
}
