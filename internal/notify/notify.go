// Package notify delivers trade and risk events to operators. Telegram is
// the production channel; Noop serves unconfigured deployments.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"callisto/internal/metrics"
	"callisto/internal/util"
)

// Notifier delivers one rendered message to the operator channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Send(context.Context, string) error { return nil }

var _ Notifier = Noop{}
var _ Notifier = (*Telegram)(nil)

// Telegram sends messages through the Bot API sendMessage endpoint.
type Telegram struct {
	token      string
	chatID     string
	baseURL    string
	client     *http.Client
	log        *slog.Logger
	rec        *metrics.Recorder
	attempts   int
	retryDelay time.Duration
}

// NewTelegram builds a notifier for the given bot token and chat.
func NewTelegram(token, chatID string, rec *metrics.Recorder) *Telegram {
	return &Telegram{
		token:      token,
		chatID:     chatID,
		baseURL:    "https://api.telegram.org",
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        slog.Default().With("component", "notify"),
		rec:        rec,
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
	}
}

type tgRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type tgResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts the message with HTML formatting, retrying transient failures.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(tgRequest{ChatID: t.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	u := t.baseURL + "/bot" + t.token + "/sendMessage"

	err = util.Retry(ctx, t.attempts, t.retryDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var tr tgResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		if !tr.OK {
			return fmt.Errorf("telegram: %s", tr.Description)
		}
		return nil
	})

	t.rec.RecordNotification("telegram", err == nil)
	if err != nil {
		t.log.Warn("notification failed", "error", err)
		return err
	}
	return nil
}
