package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/loom/internal/agent"
)

const (
	summaryWait   = "Generating summary, please wait..."
	summaryFailed = "Sorry, I couldn't get the summary at this time."
	askUsage      = "Please provide a question: /ask <your question>"
	askFailed     = "Sorry, I couldn't answer your question at this time."

	// replySummaryLimit caps the window when summarizing since a point
	// in time rather than by count.
	replySummaryLimit = 1000

	helpText = "I archive everything posted here and can answer questions about it.\n\n" +
		"/summary - summarize recent messages\n" +
		"/summary 50 - summarize the last 50 messages\n" +
		"/summary 2h - summarize the last two hours\n" +
		"/summary (as a reply) - summarize since that message\n" +
		"/ask <question> - answer from the knowledge base"
)

func (a *Adapter) handleCommand(ctx context.Context, m *models.Message) {
	cmd, args := splitCommand(m.Text)
	switch cmd {
	case "/start", "/help":
		a.replyTo(ctx, m, helpText)
	case "/summary":
		a.handleSummaryCommand(ctx, m, args)
	case "/ask":
		a.handleAskCommand(ctx, m, args)
	}
}

// splitCommand separates the command from its arguments and strips the
// @botname suffix used in groups.
func splitCommand(text string) (string, string) {
	cmd, args, _ := strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, strings.TrimSpace(args)
}

// handleSummaryCommand supports three windows: since a replied-to
// message, the last N messages, or a duration like 2h or 30m.
func (a *Adapter) handleSummaryCommand(ctx context.Context, m *models.Message, args string) {
	limit := 0
	var since *time.Time

	switch {
	case m.ReplyToMessage != nil:
		from := messageTime(m.ReplyToMessage)
		since = &from
		limit = replySummaryLimit
	case args != "":
		if n, err := strconv.Atoi(args); err == nil && n > 0 {
			limit = n
			break
		}
		d, err := time.ParseDuration(args)
		if err != nil || d <= 0 {
			a.replyTo(ctx, m, "Usage: /summary [count|duration], e.g. /summary 50 or /summary 2h")
			return
		}
		from := a.now().Add(-d)
		since = &from
		limit = replySummaryLimit
	}

	a.replyTo(ctx, m, summaryWait)

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	summary, err := a.deps.Summarize.Messages(ctx, chatID, limit, since)
	if err != nil {
		a.logger.Error(ctx, "summary command failed", "chat_id", chatID, "error", err)
		if isQuota(err) {
			a.replyTo(ctx, m, quotaMessage(err))
			return
		}
		a.replyTo(ctx, m, summaryFailed)
		return
	}
	a.replyTo(ctx, m, summary)
}

func (a *Adapter) handleAskCommand(ctx context.Context, m *models.Message, question string) {
	if question == "" {
		a.replyTo(ctx, m, askUsage)
		return
	}
	if a.deps.QA == nil {
		a.replyTo(ctx, m, askFailed)
		return
	}

	a.replyTo(ctx, m, fmt.Sprintf("Thinking about: '%s'...", question))

	msg := a.ingestMessage(m)
	answer, err := a.deps.Runner.Run(ctx, a.deps.QA, agent.TurnRequest{
		UserID: msg.Author.ID,
		ChatID: msg.ChatID,
		Text:   question,
	})
	if err != nil && !errors.Is(err, agent.ErrNoResponse) {
		a.logger.Error(ctx, "ask command failed", "chat_id", msg.ChatID, "error", err)
		if isQuota(err) {
			a.replyTo(ctx, m, quotaMessage(err))
			return
		}
		a.replyTo(ctx, m, askFailed)
		return
	}
	if answer == "" {
		answer = askFailed
	}
	a.replyTo(ctx, m, answer)
}
