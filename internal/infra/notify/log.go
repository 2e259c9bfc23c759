package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
)

// LogNotifier writes messages to the log instead of sending them. Used for dry runs.
type LogNotifier struct {
	log *slog.Logger

	mu   sync.Mutex
	sent []domain.RenderedMessage
	keep int
}

// NewLogNotifier creates a dry-run notifier that remembers the last keep messages.
func NewLogNotifier(keep int) *LogNotifier {
	return &LogNotifier{
		log:  slog.Default().With("component", "dry-run-notifier"),
		keep: keep,
	}
}

func (n *LogNotifier) SendMessage(ctx context.Context, dest string, msg domain.RenderedMessage) error {
	n.log.Info("Would send message", "destination", dest, "text", msg.Text)
	metrics.NotifierSends.WithLabelValues("message", "dry_run").Inc()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.keep > 0 {
		n.sent = append(n.sent, msg)
		if len(n.sent) > n.keep {
			n.sent = n.sent[len(n.sent)-n.keep:]
		}
	}
	return nil
}

func (n *LogNotifier) SendAnimation(ctx context.Context, dest string, url string) error {
	n.log.Info("Would send animation", "destination", dest, "url", url)
	metrics.NotifierSends.WithLabelValues("animation", "dry_run").Inc()
	return nil
}

// Sent returns the remembered messages, oldest first.
func (n *LogNotifier) Sent() []domain.RenderedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.RenderedMessage, len(n.sent))
	copy(out, n.sent)
	return out
}
