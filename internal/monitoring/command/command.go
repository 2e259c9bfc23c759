// Package command parses operator chat commands and applies them to destination
// configurations.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/buywatch/internal/core/domain"
)

// Kind names a supported command.
type Kind string

const (
	KindStart       Kind = "start"
	KindHelp        Kind = "help"
	KindAddToken    Kind = "addtoken"
	KindRemoveToken Kind = "removetoken"
	KindListTokens  Kind = "listtokens"
	KindSetGIF      Kind = "setgif"
	KindSetEmoji    Kind = "setemoji"
)

var (
	// ErrNotCommand is returned for text that does not start with '/'.
	ErrNotCommand = errors.New("not a command")
	// ErrUnknownCommand is returned for an unsupported '/name'.
	ErrUnknownCommand = errors.New("unknown command")
)

// UsageError reports a supported command called with the wrong arguments.
type UsageError struct {
	Kind Kind
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("wrong usage of /%s, expected: %s", e.Kind, usage[e.Kind])
}

var usage = map[Kind]string{
	KindAddToken:    "/addtoken CHAIN CONTRACT",
	KindRemoveToken: "/removetoken CHAIN CONTRACT",
	KindListTokens:  "/listtokens",
	KindSetGIF:      "/setgif URL",
	KindSetEmoji:    "/setemoji EMOJI",
}

var arity = map[Kind]int{
	KindStart:       0,
	KindHelp:        0,
	KindAddToken:    2,
	KindRemoveToken: 2,
	KindListTokens:  0,
	KindSetGIF:      1,
	KindSetEmoji:    1,
}

// Command is a decoded operator command.
type Command struct {
	Kind     Kind
	Chain    domain.ChainID // addtoken, removetoken
	Contract string         // addtoken, removetoken
	Value    string         // setgif url, setemoji glyph
}

// Parse decodes "/name[@bot] args...". The command name is case-insensitive and
// the chain argument is upper-cased.
func Parse(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, ErrNotCommand
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	kind := Kind(name)
	n, ok := arity[kind]
	if !ok {
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}

	args := fields[1:]
	// start and help ignore trailing text such as deep-link payloads
	switch {
	case n > 0 && len(args) != n, kind == KindListTokens && len(args) > 0:
		return Command{Kind: kind}, &UsageError{Kind: kind}
	}

	cmd := Command{Kind: kind}
	switch kind {
	case KindAddToken, KindRemoveToken:
		cmd.Chain = domain.ParseChainID(args[0])
		cmd.Contract = args[1]
	case KindSetGIF, KindSetEmoji:
		cmd.Value = args[0]
	}
	return cmd, nil
}
