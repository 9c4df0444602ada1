package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient defines the interface for Telegram bot operations.
// This interface allows for mock injection in tests while wrapping
// the actual bot.Bot methods used by the adapter.
type BotClient interface {
	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)

	// GetFile retrieves file information for downloading.
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)

	// FileDownloadLink builds the download URL for a file.
	FileDownloadLink(f *models.File) string

	// GetMe returns information about the bot.
	GetMe(ctx context.Context) (*models.User, error)

	// Start begins long polling. It blocks until the context is
	// cancelled.
	Start(ctx context.Context)
}

// realBotClient wraps a *bot.Bot to implement BotClient.
type realBotClient struct {
	bot *bot.Bot
}

func newRealBotClient(b *bot.Bot) BotClient {
	return &realBotClient{bot: b}
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	return r.bot.GetFile(ctx, params)
}

func (r *realBotClient) FileDownloadLink(f *models.File) string {
	return r.bot.FileDownloadLink(f)
}

func (r *realBotClient) GetMe(ctx context.Context) (*models.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}
