// Package bot is the Telegram front end. It routes updates by session state
// and forwards in-session text to the conversation engine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/erg0nix/palaver/internal/core"
	"github.com/erg0nix/palaver/internal/engine"
	"github.com/erg0nix/palaver/internal/metrics"
	"github.com/erg0nix/palaver/internal/session"
)

// Sender is the part of *tgbotapi.BotAPI the bot needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Engine interface {
	HandleUserTurn(ctx context.Context, user core.UserID, chat core.ChatID, text string) engine.Result
	BeginConversation(ctx context.Context, user core.UserID, chat core.ChatID) error
	EndConversation(ctx context.Context, user core.UserID, chat core.ChatID) error
	State(ctx context.Context, user core.UserID, chat core.ChatID) (session.State, error)
}

type Config struct {
	// DebugID is the only user allowed to run /debug. Zero disables it.
	DebugID        int64
	WarningLogPath string
}

type Bot struct {
	sender  Sender
	engine  Engine
	cfg     Config
	metrics *metrics.Metrics
	rand    Rand

	wg sync.WaitGroup
}

func New(sender Sender, eng Engine, cfg Config, m *metrics.Metrics) *Bot {
	return &Bot{
		sender:  sender,
		engine:  eng,
		cfg:     cfg,
		metrics: m,
		rand:    globalRand{},
	}
}

// Run dispatches every update in its own goroutine until ctx is cancelled or
// updates is closed. Handlers keep running after Run returns; use Wait to drain.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(handlerCtx, update)
			}()
		}
	}
}

// Wait blocks until in-flight handlers finish or timeout elapses. It reports
// whether all handlers finished.
func (b *Bot) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.From == nil || message.Text == "" {
		b.countUpdate("ignored")
		return
	}

	user := core.UserID(message.From.ID)
	chat := core.ChatID(message.Chat.ID)
	logger := slog.With("user", user, "chat", chat)

	if message.IsCommand() {
		b.countUpdate("command")
	} else {
		b.countUpdate("text")
	}

	state, err := b.engine.State(ctx, user, chat)
	if err != nil {
		logger.Error("failed to read session state", "error", err)
		b.reply(message, textFailure, session.NoSession)
		return
	}

	if state == session.InSession {
		b.handleInSession(ctx, logger, message, user, chat)
		return
	}

	b.handleNoSession(ctx, logger, message, user, chat)
}

func (b *Bot) handleInSession(ctx context.Context, logger *slog.Logger, message *tgbotapi.Message, user core.UserID, chat core.ChatID) {
	switch commandOf(message) {
	case commandHelp, commandStart:
		b.sendHelp(message, session.InSession)
		return
	case commandEndChat:
		b.endChat(ctx, logger, message, user, chat)
		return
	}

	result := b.engine.HandleUserTurn(ctx, user, chat, message.Text)

	switch result.Outcome {
	case engine.Replied:
		b.reply(message, result.Reply, session.InSession)
	case engine.Rejected:
		b.reply(message, textTooLong, session.InSession)
	case engine.Unavailable:
		if errors.Is(result.Cause, engine.ErrCompletionUnavailable) {
			b.reply(message, textRetry, session.InSession)
		} else {
			b.reply(message, textFailure, session.InSession)
		}
	}
}

func (b *Bot) handleNoSession(ctx context.Context, logger *slog.Logger, message *tgbotapi.Message, user core.UserID, chat core.ChatID) {
	switch commandOf(message) {
	case commandHelp, commandStart:
		b.sendHelp(message, session.NoSession)
	case commandNewChat:
		if err := b.engine.BeginConversation(ctx, user, chat); err != nil {
			logger.Error("failed to start conversation", "error", err)
			b.reply(message, textFailure, session.NoSession)
			return
		}
		b.reply(message, textNewChat, session.InSession)
	case commandDebug:
		if b.cfg.DebugID != 0 && int64(user) == b.cfg.DebugID {
			b.sendDebugLog(logger, message)
			return
		}
		b.reply(message, fillerReply(b.rand), session.NoSession)
	default:
		b.reply(message, fillerReply(b.rand), session.NoSession)
	}
}

func (b *Bot) endChat(ctx context.Context, logger *slog.Logger, message *tgbotapi.Message, user core.UserID, chat core.ChatID) {
	if err := b.engine.EndConversation(ctx, user, chat); err != nil {
		logger.Error("failed to end conversation", "error", err)
		b.reply(message, textFailure, session.InSession)
		return
	}
	b.reply(message, textEndChat, session.NoSession)
}

func (b *Bot) sendHelp(message *tgbotapi.Message, state session.State) {
	msg := replyConfig(message, textHelp, state)
	msg.ParseMode = tgbotapi.ModeHTML
	b.send(msg)
}

func (b *Bot) sendDebugLog(logger *slog.Logger, message *tgbotapi.Message) {
	data, err := readWarningLog(b.cfg.WarningLogPath)
	if err != nil {
		logger.Error("failed to read warning log", "path", b.cfg.WarningLogPath, "error", err)
		b.reply(message, textFailure, session.NoSession)
		return
	}

	if len(data) == 0 {
		b.reply(message, textLogEmpty, session.NoSession)
		return
	}

	doc := tgbotapi.NewDocument(message.Chat.ID, tgbotapi.FileBytes{Name: debugFileName, Bytes: data})
	b.send(doc)
}

func readWarningLog(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read warning log: %w", err)
	}

	return data, nil
}

func (b *Bot) reply(message *tgbotapi.Message, text string, state session.State) {
	b.send(replyConfig(message, text, state))
}

func replyConfig(message *tgbotapi.Message, text string, state session.State) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	msg.ReplyMarkup = keyboardFor(state)
	return msg
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		slog.Warn("failed to send telegram message", "error", err)
	}
}

func (b *Bot) countUpdate(kind string) {
	if b.metrics != nil {
		b.metrics.UpdatesTotal.WithLabelValues(kind).Inc()
	}
}

func commandOf(message *tgbotapi.Message) string {
	if !message.IsCommand() {
		return ""
	}
	return message.Command()
}
