package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	// Telegram rejects messages over 4096 characters.
	maxMessageRunes = 4000
	truncateNotice  = "\n\n(Response truncated due to length limit)"
)

// replyTo sends text as a reply to m, truncating to Telegram's length
// limit. Markdown parsing is attempted first and retried as plain text
// when Telegram rejects the entities.
func (a *Adapter) replyTo(ctx context.Context, m *models.Message, text string) {
	a.deliver(ctx, m.Chat.ID, m.ID, text)
}

// send delivers text to a chat without a reply reference.
func (a *Adapter) send(ctx context.Context, chatID int64, text string) {
	a.deliver(ctx, chatID, 0, text)
}

func (a *Adapter) deliver(ctx context.Context, chatID int64, replyTo int, text string) {
	if text == "" {
		return
	}
	if runes := []rune(text); len(runes) > maxMessageRunes {
		text = string(runes[:maxMessageRunes]) + truncateNotice
	}

	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseMode("Markdown"),
	}
	if replyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyTo}
	}

	if _, err := a.client.SendMessage(ctx, params); err != nil {
		// Markdown entity errors are the common failure; resend plain.
		params.ParseMode = ""
		if _, retryErr := a.client.SendMessage(ctx, params); retryErr != nil {
			a.logger.Error(ctx, "sending message failed", "chat_id", chatID, "error", retryErr)
			if a.metrics != nil {
				a.metrics.RecordError("telegram", "send")
			}
			return
		}
	}
	if a.metrics != nil {
		a.metrics.MessageSent(sourceName)
	}
}
