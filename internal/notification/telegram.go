package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"autotrader/internal/model"
)

const telegramAPI = "https://api.telegram.org"

// Bot API limit for messages to one chat.
const telegramPerChat = rate.Limit(1)

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
}

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// apiResponse is the envelope every Bot API call returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegramNotifier creates a notifier posting to chatID as the bot
// identified by botToken.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   newHTTPClient(),
		limiter:  rate.NewLimiter(telegramPerChat, 3),
	}
}

// Send blocks on the per-chat rate limit before posting.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	wait := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit: %w", err)
	}
	if d := time.Since(wait); d > 100*time.Millisecond {
		log.Debug().Str("component", "telegram").Dur("waited", d).Msg("rate limited")
	}

	msg := sendMessage{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("%s *%s*\n\n%s", badge(alert), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message)),
		ParseMode: "MarkdownV2",
	}
	data, err := postJSON(ctx, t.client, t.baseURL+"/bot"+t.botToken+"/sendMessage", msg)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("telegram: decode response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram: %w: %s", ErrDelivery, resp.Description)
	}
	log.Debug().Str("component", "telegram").Str("title", alert.Title).Msg("alert sent")
	return nil
}

func badge(alert Alert) string {
	switch {
	case alert.Level == AlertCritical:
		return "🚨"
	case alert.Level == AlertWarning:
		return "⚠️"
	case alert.Signal != nil && alert.Signal.Kind == model.SignalBuy:
		return "🟢"
	case alert.Signal != nil && alert.Signal.Kind == model.SignalSell:
		return "🔴"
	}
	return "ℹ️"
}

// markdownEscaper escapes the characters MarkdownV2 reserves.
var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
