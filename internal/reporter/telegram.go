package reporter

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig configures the Telegram reporter. Empty Token disables it.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
	// APIEndpoint overrides tgbotapi.APIEndpoint, mostly for tests.
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// TelegramReporter posts run summaries to a chat.
type TelegramReporter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramReporter authenticates the bot.
func NewTelegramReporter(cfg TelegramConfig) (*TelegramReporter, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}
	return &TelegramReporter{bot: bot, chatID: cfg.ChatID}, nil
}

// Report implements Reporter.
func (t *TelegramReporter) Report(_ context.Context, r Report) error {
	return t.SendMessage(FormatHTML(r))
}

// SendMessage posts text with HTML parse mode.
func (t *TelegramReporter) SendMessage(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// FormatHTML renders a report in Telegram's HTML subset.
func FormatHTML(r Report) string {
	var b strings.Builder
	if r.Err != nil {
		fmt.Fprintf(&b, "⚠️ <b>Crawl run failed</b>\n%s\n", html.EscapeString(r.Err.Error()))
	} else {
		b.WriteString("✅ <b>Crawl run finished</b>\n")
	}
	fmt.Fprintf(&b, "<code>%s</code> in %s\n", r.RunID, r.Duration.Round(time.Second))
	for _, s := range r.Sites {
		fmt.Fprintf(&b, "• %s: %d listings", html.EscapeString(s.Name), s.Listings)
		if s.AbortedPaths > 0 {
			fmt.Fprintf(&b, " (%d aborted)", s.AbortedPaths)
		}
		b.WriteString("\n")
	}
	sum := r.Summary
	fmt.Fprintf(&b, "Saved %d · duplicate %d · failed %d · skipped %d\n",
		sum.Saved, sum.Duplicate, sum.Failed, sum.Skipped)
	fmt.Fprintf(&b, "Success rate <b>%s</b>", FormatRate(sum.SuccessRate()))
	return b.String()
}

// FormatRate renders a percentage with two decimals.
func FormatRate(pct float64) string {
	return fmt.Sprintf("%.2f%%", pct)
}
