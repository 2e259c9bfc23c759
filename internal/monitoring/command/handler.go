package command

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/monitoring/controller"
)

// Watches is the configuration surface commands act on.
type Watches interface {
	AddWatch(ctx context.Context, dest string, chain domain.ChainID, contract string) error
	RemoveWatch(ctx context.Context, dest string, chain domain.ChainID, contract string) error
	SetAnimation(ctx context.Context, dest string, url string) error
	SetEmoji(ctx context.Context, dest string, emoji string) error
	ListWatches(ctx context.Context, dest string) (domain.DestinationConfig, error)
}

// Handler turns commands into configuration changes and HTML replies.
type Handler struct {
	watches  Watches
	registry *domain.Registry
	log      *slog.Logger
}

// NewHandler creates a command handler.
func NewHandler(watches Watches, registry *domain.Registry) *Handler {
	return &Handler{
		watches:  watches,
		registry: registry,
		log:      slog.Default().With("component", "commands"),
	}
}

// HandleText parses and handles one chat message. ok is false for plain text.
func (h *Handler) HandleText(ctx context.Context, dest string, text string) (string, bool) {
	cmd, err := Parse(text)
	switch {
	case errors.Is(err, ErrNotCommand):
		return "", false
	case errors.Is(err, ErrUnknownCommand):
		return "❌ Unknown command. Use /help to see the available commands.", true
	case err != nil:
		var ue *UsageError
		if errors.As(err, &ue) {
			return usageReply(ue.Kind), true
		}
		return "❌ " + html.EscapeString(err.Error()), true
	}
	return h.Handle(ctx, dest, cmd), true
}

// Handle applies a decoded command for dest and returns the reply.
func (h *Handler) Handle(ctx context.Context, dest string, cmd Command) string {
	h.log.Debug("Handling command", "destination", dest, "command", cmd.Kind)

	switch cmd.Kind {
	case KindStart, KindHelp:
		return h.help()

	case KindAddToken:
		err := h.watches.AddWatch(ctx, dest, cmd.Chain, cmd.Contract)
		switch {
		case errors.Is(err, controller.ErrAlreadyWatched):
			return fmt.Sprintf("⚠️ <b>Token already watched</b>\n\nThis token is already watched on %s.", cmd.Chain)
		case err != nil:
			return h.failure(dest, cmd, err)
		}
		return fmt.Sprintf("✅ <b>Token added</b>\n\n🔗 Chain: <b>%s</b>\n📄 Contract: <code>%s</code>",
			cmd.Chain, html.EscapeString(cmd.Contract))

	case KindRemoveToken:
		err := h.watches.RemoveWatch(ctx, dest, cmd.Chain, cmd.Contract)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fmt.Sprintf("⚠️ <b>Token not found</b>\n\nThis token is not watched on %s.", cmd.Chain)
		case err != nil:
			return h.failure(dest, cmd, err)
		}
		return fmt.Sprintf("✅ <b>Token removed</b>\n\n🔗 Chain: <b>%s</b>\n📄 Contract: <code>%s</code>",
			cmd.Chain, html.EscapeString(cmd.Contract))

	case KindListTokens:
		cfg, err := h.watches.ListWatches(ctx, dest)
		if err != nil {
			return h.failure(dest, cmd, err)
		}
		return h.list(cfg)

	case KindSetGIF:
		if err := h.watches.SetAnimation(ctx, dest, cmd.Value); err != nil {
			return h.failure(dest, cmd, err)
		}
		return fmt.Sprintf("✅ <b>Animation set</b>\n\n🎬 <a href='%s'>Preview</a>", html.EscapeString(cmd.Value))

	case KindSetEmoji:
		if err := h.watches.SetEmoji(ctx, dest, cmd.Value); err != nil {
			return h.failure(dest, cmd, err)
		}
		return fmt.Sprintf("✅ <b>Emoji set</b>\n\nBuys will show %s", html.EscapeString(cmd.Value))
	}
	return "❌ Unknown command. Use /help to see the available commands."
}

func (h *Handler) failure(dest string, cmd Command, err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownChain):
		return fmt.Sprintf("❌ <b>Unsupported chain:</b> %s\n\nSupported chains: %s",
			html.EscapeString(string(cmd.Chain)), h.chainList())
	case errors.Is(err, domain.ErrInvalidAddress):
		return fmt.Sprintf("❌ <b>Invalid contract address</b> for %s: <code>%s</code>",
			cmd.Chain, html.EscapeString(cmd.Contract))
	case errors.Is(err, controller.ErrInvalidAnimationURL):
		return "❌ <b>Invalid URL.</b> Send an http(s) link to a GIF or MP4."
	case errors.Is(err, controller.ErrInvalidEmoji):
		return "❌ <b>Invalid emoji.</b> Send a single emoji."
	}
	h.log.Error("Command failed", "destination", dest, "command", cmd.Kind, "error", err)
	return "❌ Something went wrong, please try again later."
}

func (h *Handler) chainList() string {
	ids := h.registry.Chains()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}

func (h *Handler) help() string {
	var b strings.Builder
	b.WriteString("🚀 <b>Welcome to BuyXanBot!</b>\n\n")
	b.WriteString("I post token buys on ")
	ids := h.registry.Chains()
	for i, id := range ids {
		p, _ := h.registry.Profile(id)
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
	}
	b.WriteString(".\n\n<b>📋 Commands:</b>\n")
	b.WriteString("• /addtoken CHAIN CONTRACT - watch a token\n")
	b.WriteString("• /removetoken CHAIN CONTRACT - stop watching a token\n")
	b.WriteString("• /listtokens - show watched tokens\n")
	b.WriteString("• /setgif URL - animation sent before each buy\n")
	b.WriteString("• /setemoji EMOJI - emoji used in buy alerts\n")
	b.WriteString("• /help - show this help\n\n")
	fmt.Fprintf(&b, "<b>🔗 Chains:</b> %s\n\n", h.chainList())
	b.WriteString("<b>📝 Example:</b>\n<code>/addtoken ETH 0x1234567890abcdef1234567890abcdef12345678</code>")
	return b.String()
}

func (h *Handler) list(cfg domain.DestinationConfig) string {
	total := cfg.WatchCount()
	if total == 0 {
		return "📋 <b>No tokens watched</b>\n\nUse /addtoken to start.\n\n" +
			"Example: <code>/addtoken ETH 0x1234567890abcdef1234567890abcdef12345678</code>"
	}

	var b strings.Builder
	b.WriteString("📋 <b>Watched tokens:</b>\n\n")
	for _, id := range h.registry.Chains() {
		tokens := cfg.Watching(id)
		if len(tokens) == 0 {
			continue
		}
		fmt.Fprintf(&b, "🔗 <b>%s:</b>\n", id)
		for _, t := range tokens {
			fmt.Fprintf(&b, "  • <code>%s</code>\n", html.EscapeString(string(t)))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "<i>Total: %d token(s)</i>", total)
	return b.String()
}

func usageReply(kind Kind) string {
	return fmt.Sprintf("❌ <b>Wrong usage.</b>\n\nUsage: <code>%s</code>", usage[kind])
}
