package controller

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vietddude/buywatch/internal/core/domain"
)

var (
	ErrAlreadyWatched      = errors.New("token already watched")
	ErrInvalidAnimationURL = errors.New("invalid animation url")
	ErrInvalidEmoji        = errors.New("invalid emoji")
)

const maxEmojiRunes = 8

// AddWatch validates and adds a contract to a destination's watch set. The
// destination is created on first use.
func (c *Controller) AddWatch(ctx context.Context, dest string, chain domain.ChainID, contract string) error {
	addr, err := c.validate(chain, contract)
	if err != nil {
		return err
	}
	return c.mutate(ctx, dest, func(cfg *domain.DestinationConfig) error {
		if !cfg.AddWatch(chain, addr) {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyWatched, addr, chain)
		}
		return nil
	})
}

// RemoveWatch deletes a contract from a destination's watch set.
func (c *Controller) RemoveWatch(ctx context.Context, dest string, chain domain.ChainID, contract string) error {
	if !c.cfg.Registry.Has(chain) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownChain, chain)
	}
	addr := domain.ContractAddress(strings.TrimSpace(contract))
	return c.mutate(ctx, dest, func(cfg *domain.DestinationConfig) error {
		if !cfg.RemoveWatch(chain, addr) {
			return fmt.Errorf("%w: %s is not watched on %s", domain.ErrNotFound, addr, chain)
		}
		return nil
	})
}

// SetAnimation sets the animation sent before each notification. An empty url clears it.
func (c *Controller) SetAnimation(ctx context.Context, dest string, animationURL string) error {
	animationURL = strings.TrimSpace(animationURL)
	if animationURL != "" {
		u, err := url.Parse(animationURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidAnimationURL, animationURL)
		}
	}
	return c.mutate(ctx, dest, func(cfg *domain.DestinationConfig) error {
		cfg.AnimationURL = animationURL
		return nil
	})
}

// SetEmoji sets the glyph repeated in notifications.
func (c *Controller) SetEmoji(ctx context.Context, dest string, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes || strings.ContainsAny(emoji, "<>&") {
		return fmt.Errorf("%w: %q", ErrInvalidEmoji, emoji)
	}
	return c.mutate(ctx, dest, func(cfg *domain.DestinationConfig) error {
		cfg.Emoji = emoji
		return nil
	})
}

// ListWatches returns the destination's configuration, empty when unknown.
func (c *Controller) ListWatches(ctx context.Context, dest string) (domain.DestinationConfig, error) {
	cfg, err := c.cfg.Store.Get(ctx, dest)
	if err != nil {
		return domain.DestinationConfig{}, fmt.Errorf("%w: %v", domain.ErrConfigStoreUnavailable, err)
	}
	if cfg == nil {
		return domain.NewDestination(dest), nil
	}
	return *cfg, nil
}

func (c *Controller) validate(chain domain.ChainID, contract string) (domain.ContractAddress, error) {
	profile, err := c.cfg.Registry.Profile(chain)
	if err != nil {
		return "", err
	}
	contract = strings.TrimSpace(contract)
	if err := domain.ValidateAddress(profile.AddressKind, contract); err != nil {
		return "", err
	}
	return domain.ContractAddress(contract), nil
}

func (c *Controller) mutate(ctx context.Context, dest string, fn func(*domain.DestinationConfig) error) error {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return fmt.Errorf("%w: empty destination", domain.ErrNotFound)
	}

	c.mutateMu.Lock()
	defer c.mutateMu.Unlock()

	current, err := c.cfg.Store.Get(ctx, dest)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigStoreUnavailable, err)
	}
	cfg := domain.NewDestination(dest)
	if current != nil {
		cfg = current.Clone()
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := c.cfg.Store.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigStoreUnavailable, err)
	}
	c.log.Info("Destination updated", "destination", dest, "watches", cfg.WatchCount())
	return nil
}
