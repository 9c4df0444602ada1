// Package telegram adapts the bot API to the ingestion pipeline and the
// agent runner: chat whitelisting, forwarded-message pooling with a
// debounce window, voice and photo download, and safe reply delivery.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/ingest"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/summarize"
)

const (
	defaultForwardDebounce = 5 * time.Second

	sourceName = "telegram"

	forwardWarning = "Я жду ещё пять секунд доп. сообщения и на это время отключил оркестратора. " +
		"Если ничего не пришлете, то отправлю присланный пул сообщений в суммаризатор."
	summaryStarting = "Ну штош... запускаю суммаризацию..."
	summaryEmpty    = "Саммари нет."
	savedAck        = "Saved."
	voiceAck        = "Voice message saved and processing."
	voiceFailed     = "Failed to save voice message."
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	// AllowedChatIDs whitelists chats. Empty means all chats are
	// allowed.
	AllowedChatIDs []int64

	// SilentMode suppresses the "Saved." style acknowledgements.
	SilentMode bool

	// ForwardDebounce is the quiet period after which a pool of
	// forwarded messages is summarized. Defaults to 5s.
	ForwardDebounce time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Deps are the services the adapter drives.
type Deps struct {
	Ingest    *ingest.Service
	Runner    *agent.Runner
	Root      *agent.Agent
	Summarize *summarize.Service

	// QA serves the /ask command; optional.
	QA *agent.Agent
}

// forwardPool tracks a burst of forwarded messages for one chat. While a
// pool is open every incoming message is ingested but the orchestrator
// is skipped; the pool flushes into the summarizer after the debounce
// window passes without new messages.
type forwardPool struct {
	firstTime time.Time
	count     int
	timer     *time.Timer
}

// Adapter connects a Telegram bot to the loom runtime.
type Adapter struct {
	cfg    Config
	deps   Deps
	client BotClient

	// download fetches a file by URL; swapped out in tests.
	download func(ctx context.Context, url string) ([]byte, error)

	mu    sync.Mutex
	pools map[int64]*forwardPool

	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(cfg Config, deps Deps) (*Adapter, error) {
	if deps.Ingest == nil {
		return nil, errors.New("telegram: ingest service is required")
	}
	if deps.Runner == nil || deps.Root == nil {
		return nil, errors.New("telegram: runner and root agent are required")
	}
	if deps.Summarize == nil {
		return nil, errors.New("telegram: summarize service is required")
	}
	if cfg.ForwardDebounce <= 0 {
		cfg.ForwardDebounce = defaultForwardDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{Level: "info"})
	}
	return &Adapter{
		cfg:      cfg,
		deps:     deps,
		download: downloadURL,
		pools:    make(map[int64]*forwardPool),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// Start connects to Telegram and long-polls until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	if a.client == nil {
		if a.cfg.Token == "" {
			return errors.New("telegram: token is required")
		}
		b, err := bot.New(a.cfg.Token, bot.WithDefaultHandler(a.handleUpdate))
		if err != nil {
			return fmt.Errorf("telegram: creating bot: %w", err)
		}
		a.client = newRealBotClient(b)
	}

	if me, err := a.client.GetMe(ctx); err == nil {
		a.logger.Info(ctx, "telegram bot connected", "username", me.Username)
	}

	a.client.Start(ctx)
	a.Stop()
	return nil
}

// Stop cancels any pending forward pool timers.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for chatID, pool := range a.pools {
		pool.timer.Stop()
		delete(a.pools, chatID)
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	m := update.Message
	if m == nil {
		return
	}
	chatID := m.Chat.ID
	if !a.chatAllowed(chatID) {
		a.logger.Debug(ctx, "ignoring message from unlisted chat", "chat_id", chatID)
		return
	}
	if a.metrics != nil {
		a.metrics.MessageReceived(sourceName, "inbound")
	}

	switch {
	case strings.HasPrefix(m.Text, "/"):
		a.handleCommand(ctx, m)
	case m.Voice != nil:
		a.handleVoice(ctx, m)
	case len(m.Photo) > 0:
		a.handlePhoto(ctx, m)
	case m.Text != "":
		a.handleText(ctx, m)
	}
}

func (a *Adapter) chatAllowed(chatID int64) bool {
	if len(a.cfg.AllowedChatIDs) == 0 {
		return true
	}
	for _, allowed := range a.cfg.AllowedChatIDs {
		if chatID == allowed {
			return true
		}
	}
	return false
}

func (a *Adapter) handleText(ctx context.Context, m *models.Message) {
	msg := a.ingestMessage(m)

	if a.poolAppend(m.Chat.ID) {
		a.ingestText(ctx, msg, m.Text)
		return
	}
	if isForwarded(m) {
		a.startPool(m.Chat.ID, messageTime(m))
		a.replyTo(ctx, m, forwardWarning)
		a.ingestText(ctx, msg, m.Text)
		return
	}

	a.ingestText(ctx, msg, m.Text)
	reply, err := a.deps.Runner.Run(ctx, a.deps.Root, agent.TurnRequest{
		UserID: msg.Author.ID,
		ChatID: msg.ChatID,
		Text:   m.Text,
	})
	switch {
	case err == nil && reply != "":
		a.replyTo(ctx, m, reply)
	case isQuota(err):
		a.replyTo(ctx, m, quotaMessage(err))
	default:
		if err != nil && !errors.Is(err, agent.ErrNoResponse) {
			a.logger.Error(ctx, "orchestrator turn failed", "chat_id", msg.ChatID, "error", err)
		}
		if !a.cfg.SilentMode {
			a.replyTo(ctx, m, savedAck)
		}
	}
}

func (a *Adapter) handleVoice(ctx context.Context, m *models.Message) {
	msg := a.ingestMessage(m)

	data, err := a.downloadFile(ctx, m.Voice.FileID)
	if err != nil {
		a.logger.Error(ctx, "voice download failed", "chat_id", msg.ChatID, "error", err)
		a.replyTo(ctx, m, voiceFailed)
		return
	}
	res, err := a.deps.Ingest.Voice(ctx, ingest.VoiceMessage{
		Message:  msg,
		Data:     data,
		Filename: m.Voice.FileID + ".ogg",
	})
	if err != nil {
		a.logger.Error(ctx, "voice ingest failed", "chat_id", msg.ChatID, "error", err)
		a.replyTo(ctx, m, voiceFailed)
		return
	}

	if a.poolAppend(m.Chat.ID) {
		return
	}
	if isForwarded(m) {
		a.startPool(m.Chat.ID, messageTime(m))
		a.replyTo(ctx, m, forwardWarning)
		return
	}

	if res.Text == "" {
		a.ack(ctx, m, voiceAck)
		return
	}
	reply, err := a.deps.Runner.Run(ctx, a.deps.Root, agent.TurnRequest{
		UserID: msg.Author.ID,
		ChatID: msg.ChatID,
		Text:   res.Text,
	})
	switch {
	case err == nil && reply != "":
		a.replyTo(ctx, m, reply)
	case isQuota(err):
		a.replyTo(ctx, m, quotaMessage(err))
	default:
		if err != nil && !errors.Is(err, agent.ErrNoResponse) {
			a.logger.Error(ctx, "voice turn failed", "chat_id", msg.ChatID, "error", err)
		}
		a.ack(ctx, m, voiceAck)
	}
}

func (a *Adapter) handlePhoto(ctx context.Context, m *models.Message) {
	msg := a.ingestMessage(m)

	// Telegram lists photo sizes smallest first.
	largest := m.Photo[len(m.Photo)-1]
	data, err := a.downloadFile(ctx, largest.FileID)
	if err != nil {
		a.logger.Error(ctx, "photo download failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	if _, err := a.deps.Ingest.Image(ctx, ingest.ImageMessage{
		Message:  msg,
		Data:     data,
		Filename: largest.FileID + ".jpg",
	}); err != nil {
		a.logger.Error(ctx, "photo ingest failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	if m.Caption != "" {
		captionMsg := msg
		captionMsg.MessageID = msg.MessageID + ":caption"
		a.ingestText(ctx, captionMsg, m.Caption)
	}

	if a.poolAppend(m.Chat.ID) {
		return
	}
	if isForwarded(m) {
		a.startPool(m.Chat.ID, messageTime(m))
		a.replyTo(ctx, m, forwardWarning)
		return
	}
	a.ack(ctx, m, savedAck)
}

func (a *Adapter) ack(ctx context.Context, m *models.Message, text string) {
	if a.cfg.SilentMode {
		return
	}
	a.replyTo(ctx, m, text)
}

func (a *Adapter) ingestText(ctx context.Context, msg ingest.Message, text string) {
	if _, err := a.deps.Ingest.Text(ctx, ingest.TextMessage{Message: msg, Text: text}); err != nil {
		a.logger.Error(ctx, "text ingest failed", "chat_id", msg.ChatID, "error", err)
	}
}

// poolAppend reports whether a forward pool is open for the chat; if so
// it counts the message and resets the debounce timer.
func (a *Adapter) poolAppend(chatID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	pool, ok := a.pools[chatID]
	if !ok {
		return false
	}
	pool.count++
	pool.timer.Reset(a.cfg.ForwardDebounce)
	return true
}

func (a *Adapter) startPool(chatID int64, firstTime time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pool := &forwardPool{firstTime: firstTime, count: 1}
	pool.timer = time.AfterFunc(a.cfg.ForwardDebounce, func() {
		a.flushPool(chatID)
	})
	a.pools[chatID] = pool
}

// flushPool summarizes the pooled window once the debounce passes.
func (a *Adapter) flushPool(chatID int64) {
	a.mu.Lock()
	pool, ok := a.pools[chatID]
	delete(a.pools, chatID)
	a.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a.send(ctx, chatID, summaryStarting)

	since := pool.firstTime
	summary, err := a.deps.Summarize.Messages(ctx, strconv.FormatInt(chatID, 10), pool.count+5, &since)
	if err != nil {
		a.logger.Error(ctx, "forward summary failed", "chat_id", chatID, "error", err)
		return
	}
	if summary == "" || summary == summarize.NoMessages {
		summary = summaryEmpty
	}
	a.send(ctx, chatID, summary)
}

// ingestMessage builds the ingestion coordinates for a Telegram message,
// resolving the original author for forwards.
func (a *Adapter) ingestMessage(m *models.Message) ingest.Message {
	return ingest.Message{
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Source:    sourceName,
		MessageID: strconv.Itoa(m.ID),
		Author:    extractAuthor(m),
		IsForward: isForwarded(m),
	}
}

func isForwarded(m *models.Message) bool {
	return m.ForwardOrigin != nil
}

func messageTime(m *models.Message) time.Time {
	return time.Unix(int64(m.Date), 0)
}

// extractAuthor prefers the forward origin chain over the sender: the
// original user, then the originating group or channel, then a hidden
// sender's name. Non-forwards attribute to the current sender.
func extractAuthor(m *models.Message) ingest.Author {
	if o := m.ForwardOrigin; o != nil {
		switch {
		case o.MessageOriginUser != nil:
			return userAuthor(&o.MessageOriginUser.SenderUser)
		case o.MessageOriginChat != nil:
			c := o.MessageOriginChat.SenderChat
			return chatAuthor(&c)
		case o.MessageOriginChannel != nil:
			c := o.MessageOriginChannel.Chat
			return chatAuthor(&c)
		case o.MessageOriginHiddenUser != nil:
			return ingest.Author{Name: o.MessageOriginHiddenUser.SenderUserName}
		}
	}
	if m.From != nil {
		return userAuthor(m.From)
	}
	c := m.Chat
	return chatAuthor(&c)
}

func userAuthor(u *models.User) ingest.Author {
	return ingest.Author{
		ID:   strconv.FormatInt(u.ID, 10),
		Nick: u.Username,
		Name: strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
}

func chatAuthor(c *models.Chat) ingest.Author {
	name := c.Title
	if name == "" {
		name = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return ingest.Author{
		ID:   strconv.FormatInt(c.ID, 10),
		Nick: c.Username,
		Name: name,
	}
}

func isQuota(err error) bool {
	var qe *agent.QuotaError
	return errors.As(err, &qe)
}

func quotaMessage(err error) string {
	var qe *agent.QuotaError
	if errors.As(err, &qe) {
		return qe.UserMessage()
	}
	return err.Error()
}
