// Package notify sends trading-signal notifications to users over
// Telegram. It implements reconciler.Notifier and is also the home for the
// bot's inbound command loop (session start/stop/status).
//
// Grounded on the teacher's internal/bot/telegram.go: the same
// tgbotapi.BotAPI wrapper, the same listenForCommands/handleMessage select
// loop shape, generalized from a single-operator bot to a per-chat-ID
// multi-tenant one.
package notify

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// CommandHandler reacts to one inbound Telegram command from a user,
// returning the text to send back.
type CommandHandler func(ctx context.Context, userID int64, args string) string

// Sender wraps a Telegram bot connection for outbound notifications and an
// inbound command dispatch loop.
type Sender struct {
	api      *tgbotapi.BotAPI
	commands map[string]CommandHandler
	stopCh   chan struct{}
}

// New connects to Telegram with the given bot token.
func New(token string) (*Sender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return &Sender{api: api, commands: make(map[string]CommandHandler), stopCh: make(chan struct{})}, nil
}

// OnCommand registers a handler for a "/command" string (without the
// leading slash).
func (s *Sender) OnCommand(name string, handler CommandHandler) {
	s.commands[name] = handler
}

// Notify implements reconciler.Notifier, sending an HTML-escaped message to
// the chat whose ID is userID.
func (s *Sender) Notify(ctx context.Context, userID int64, message string) error {
	msg := tgbotapi.NewMessage(userID, html.EscapeString(message))
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := s.api.Send(msg)
	if err != nil {
		return fmt.Errorf("send telegram message to %d: %w", userID, err)
	}
	return nil
}

// ListenForCommands blocks, dispatching inbound messages to registered
// command handlers until ctx is cancelled or Stop is called.
func (s *Sender) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := s.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			s.handleCommand(ctx, update.Message)
		}
	}
}

// Stop ends ListenForCommands.
func (s *Sender) Stop() {
	close(s.stopCh)
}

func (s *Sender) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := msg.Command()
	handler, ok := s.commands[name]
	if !ok {
		log.Debug().Str("command", name).Msg("no handler registered for command")
		return
	}

	userID := msg.Chat.ID
	reply := handler(ctx, userID, msg.CommandArguments())
	if reply == "" {
		return
	}
	out := tgbotapi.NewMessage(userID, reply)
	out.ParseMode = tgbotapi.ModeHTML
	if _, err := s.api.Send(out); err != nil {
		log.Error().Err(err).Int64("user", userID).Str("command", name).Msg("failed to send command reply")
	}
}
