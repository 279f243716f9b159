package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/web3guy0/polyflow/types"
)

// TelegramSender delivers notifications to a single Telegram chat.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, "notify.telegram", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, formatMessage(n))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return types.E(types.KindUpstreamUnavailable, "notify.telegram", err)
	}
	return nil
}

var kindIcons = map[Kind]string{
	KindTPSLTrigger:  "🎯",
	KindTPSLFailed:   "🚨",
	KindCopyExecuted: "📋",
	KindCopySkipped:  "⏭️",
	KindSystemAlert:  "📢",
}

func formatMessage(n Notification) string {
	icon, ok := kindIcons[n.Kind]
	if !ok {
		icon = "ℹ️"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", icon, escapeMarkdown(n.Title))
	if n.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(n.Body)
	}
	return b.String()
}

// escapeMarkdown neutralizes the characters Telegram's legacy Markdown mode
// treats as formatting. Bodies are composed by us and escape their own
// interpolations.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
	return r.Replace(s)
}
