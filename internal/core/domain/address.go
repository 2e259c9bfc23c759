package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// ContractAddress is a chain-specific token contract (EVM) or mint (Solana) address.
type ContractAddress string

// Key returns the comparison key: lower-case for EVM addresses, verbatim otherwise.
func (a ContractAddress) Key() string {
	s := strings.TrimSpace(string(a))
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}

// SameAddress compares two addresses using chain-appropriate case rules.
func SameAddress(a, b ContractAddress) bool {
	return a.Key() == b.Key()
}

// ValidateAddress checks an address against the rules of the given address kind.
func ValidateAddress(kind AddressKind, addr string) error {
	addr = strings.TrimSpace(addr)
	switch kind {
	case AddressKindEVM:
		if !common.IsHexAddress(addr) || !strings.HasPrefix(strings.ToLower(addr), "0x") {
			return fmt.Errorf("%w: %q is not a 0x-prefixed 40 hex address", ErrInvalidAddress, addr)
		}
		return nil
	case AddressKindSolana:
		raw, err := base58.Decode(addr)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: %q is not a base58 public key", ErrInvalidAddress, addr)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported address kind %q", ErrInvalidAddress, kind)
	}
}
