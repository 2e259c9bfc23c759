package notify

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// CommandHandler answers a chat command. ok is false when text is not a command.
type CommandHandler interface {
	HandleText(ctx context.Context, dest string, text string) (reply string, ok bool)
}

// BotCommands is the command menu registered with Telegram.
var BotCommands = []models.BotCommand{
	{Command: "start", Description: "Show welcome message"},
	{Command: "help", Description: "Show available commands"},
	{Command: "addtoken", Description: "Watch a token: /addtoken CHAIN ADDRESS"},
	{Command: "removetoken", Description: "Stop watching: /removetoken CHAIN ADDRESS"},
	{Command: "listtokens", Description: "List watched tokens"},
	{Command: "setgif", Description: "Set buy animation: /setgif URL"},
	{Command: "setemoji", Description: "Set buy emoji: /setemoji EMOJI"},
}

// Listener long-polls Telegram for commands and routes them to a handler.
type Listener struct {
	tg      *Telegram
	handler CommandHandler
	log     *slog.Logger
}

// NewListener creates a command listener on an existing Telegram notifier.
func NewListener(tg *Telegram, handler CommandHandler) *Listener {
	l := &Listener{
		tg:      tg,
		handler: handler,
		log:     slog.Default().With("component", "telegram-listener"),
	}
	tg.bot.RegisterHandler(bot.HandlerTypeMessageText, "/", bot.MatchTypePrefix, l.onMessage)
	return l
}

// Run registers the command menu and polls until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	if _, err := l.tg.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: BotCommands}); err != nil {
		l.log.Warn("Failed to register command menu", "error", err)
	}
	l.log.Info("Listening for commands")
	l.tg.bot.Start(ctx)
	l.log.Info("Command listener stopped")
}

func (l *Listener) onMessage(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	dest := strconv.FormatInt(update.Message.Chat.ID, 10)
	l.Dispatch(ctx, dest, update.Message.Text)
}

// Dispatch handles one inbound text and sends the reply.
func (l *Listener) Dispatch(ctx context.Context, dest string, text string) {
	if !strings.HasPrefix(strings.TrimSpace(text), "/") {
		return
	}
	reply, ok := l.handler.HandleText(ctx, dest, text)
	if !ok || reply == "" {
		return
	}
	if err := l.tg.Reply(ctx, dest, reply); err != nil {
		l.log.Warn("Failed to send command reply", "destination", dest, "error", err)
	}
}
