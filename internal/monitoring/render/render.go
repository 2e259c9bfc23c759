// Package render turns a purchase event and market data into a chat notification.
// Everything here is pure: the same inputs always produce the same bytes.
package render

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/vietddude/buywatch/internal/core/domain"
)

const (
	minEmojis   = 1
	maxEmojis   = 20
	usdPerEmoji = 100.0
)

// Renderer builds HTML notifications.
type Renderer struct {
	CommunityURL string
}

// New creates a renderer that links to the given community URL.
func New(communityURL string) *Renderer {
	return &Renderer{CommunityURL: communityURL}
}

// Render produces the message for one purchase and destination.
// It fails with domain.ErrUnknownChain or domain.ErrInvalidPurchaseEvent and never returns
// a partial message.
func (r *Renderer) Render(
	ev domain.PurchaseEvent,
	snap domain.MarketSnapshot,
	profile domain.ChainProfile,
	dest domain.DestinationConfig,
) (domain.RenderedMessage, error) {
	if profile.ID != ev.Chain || !profile.Complete() {
		return domain.RenderedMessage{}, fmt.Errorf("%w: no usable profile for %q", domain.ErrUnknownChain, ev.Chain)
	}
	if err := ev.Validate(); err != nil {
		return domain.RenderedMessage{}, err
	}
	if dest.ID == "" {
		return domain.RenderedMessage{}, fmt.Errorf("%w: missing destination", domain.ErrInvalidPurchaseEvent)
	}

	nativePrice := snap.NativePriceUSD
	if nativePrice <= 0 {
		nativePrice = profile.NativePriceUSD
	}
	usd := USDValue(ev.NativeAmount, nativePrice)
	if math.IsNaN(usd) || math.IsInf(usd, 0) {
		return domain.RenderedMessage{}, fmt.Errorf("%w: non-finite usd value", domain.ErrInvalidPurchaseEvent)
	}

	name := html.EscapeString(ev.TokenName)
	symbol := html.EscapeString(ev.TokenSymbol)
	glyph := html.EscapeString(dest.Glyph())
	explorer := html.EscapeString(strings.TrimRight(profile.ExplorerURL, "/"))
	buyer := html.EscapeString(ev.Buyer)
	tx := html.EscapeString(ev.TxID)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> (%s) Buy!\n\n", name, symbol)
	b.WriteString(strings.Repeat(glyph, EmojiCount(usd)))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "💵 %s %s ($%s)\n", strconv.FormatFloat(ev.NativeAmount, 'f', 3, 64),
		profile.NativeSymbol, FormatThousands(usd, 2))
	fmt.Fprintf(&b, "🪙 %s %s\n", FormatThousands(ev.TokenAmount, 0), symbol)
	fmt.Fprintf(&b, "🔷 <a href='%s/address/%s'>%s</a> | Txn <a href='%s/tx/%s'>🔗</a>\n",
		explorer, buyer, html.EscapeString(ShortAddress(ev.Buyer)), explorer, tx)
	fmt.Fprintf(&b, "🔼 Position +%s%%\n",
		strconv.FormatFloat(PositionPercent(snap.WalletBalance, snap.TotalSupply), 'f', 1, 64))
	fmt.Fprintf(&b, "🔼 Market Cap $%s\n\n", FormatThousands(snap.MarketCapUSD, 0))
	fmt.Fprintf(&b, "📊 <a href='%s'>Chart</a>\n", html.EscapeString(profile.ChartLink(ev.Contract)))
	fmt.Fprintf(&b, "🦄 <a href='%s'>Trade</a>\n", html.EscapeString(profile.TradeLink(ev.Contract)))
	fmt.Fprintf(&b, "🔹 <a href='%s'>Join Community</a>", html.EscapeString(r.CommunityURL))

	return domain.RenderedMessage{
		Destination:  dest.ID,
		Text:         b.String(),
		AnimationURL: dest.AnimationURL,
	}, nil
}

// USDValue converts a native amount at the given reference price.
func USDValue(nativeAmount, nativePriceUSD float64) float64 {
	return nativeAmount * nativePriceUSD
}

// EmojiCount returns clamp(floor(usd/100), 1, 20).
func EmojiCount(usd float64) int {
	if math.IsNaN(usd) || usd < usdPerEmoji {
		return minEmojis
	}
	n := math.Floor(usd / usdPerEmoji)
	if n >= maxEmojis {
		return maxEmojis
	}
	return int(n)
}

// PositionPercent is the share of supply held by the wallet, 0 when supply is 0.
func PositionPercent(balance, totalSupply float64) float64 {
	if totalSupply == 0 {
		return 0
	}
	return 100 * balance / totalSupply
}

// ShortAddress abbreviates addresses longer than 10 characters as first6...last4.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// FormatThousands formats v with the given decimals and comma group separators.
func FormatThousands(v float64, decimals int) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteString(frac)

	if v < 0 && strings.Trim(s, "0.") != "" {
		return "-" + b.String()
	}
	return b.String()
}
