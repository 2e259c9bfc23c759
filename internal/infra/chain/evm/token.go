package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/chain"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 abi: %v", err))
	}
	return parsed
}

// TokenInfo returns name, symbol and decimals of an ERC-20 contract, cached per contract.
// Tokens without string metadata fall back to the shortened address.
func (s *Source) TokenInfo(ctx context.Context, contract domain.ContractAddress) (chain.TokenInfo, error) {
	key := contract.Key()
	s.metaMu.RLock()
	info, ok := s.meta[key]
	s.metaMu.RUnlock()
	if ok {
		return info, nil
	}

	to := common.HexToAddress(string(contract))

	decimals, err := s.callUint8(ctx, to, "decimals")
	if err != nil {
		return chain.TokenInfo{}, err
	}
	info.Decimals = decimals

	complete := true
	if info.Name, err = s.callString(ctx, to, "name"); err != nil {
		s.log.Debug("Token name unavailable", "contract", contract, "error", err)
		complete = false
	}
	if info.Symbol, err = s.callString(ctx, to, "symbol"); err != nil {
		s.log.Debug("Token symbol unavailable", "contract", contract, "error", err)
		complete = false
	}
	fallback := fallbackLabel(to)
	if info.Name == "" {
		info.Name = fallback
	}
	if info.Symbol == "" {
		info.Symbol = fallback
	}

	// Fallbacks are not cached so the next scan can retry
	if complete {
		s.metaMu.Lock()
		s.meta[key] = info
		s.metaMu.Unlock()
	}
	return info, nil
}

// TokenBalance reads balanceOf(wallet) in whole-token units.
func (s *Source) TokenBalance(
	ctx context.Context,
	wallet string,
	contract domain.ContractAddress,
) (float64, error) {
	if !common.IsHexAddress(wallet) {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, wallet)
	}
	info, err := s.TokenInfo(ctx, contract)
	if err != nil {
		return 0, err
	}

	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := s.ethCall(ctx, common.HexToAddress(string(contract)), data)
	if err != nil {
		return 0, err
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("unpack balanceOf: %w", err)
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected balanceOf type %T", values[0])
	}
	return ToUnits(raw, info.Decimals), nil
}

func (s *Source) callString(ctx context.Context, to common.Address, method string) (string, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return "", err
	}
	out, err := s.ethCall(ctx, to, data)
	if err != nil {
		return "", err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err == nil && len(values) > 0 {
		if v, ok := values[0].(string); ok {
			return strings.TrimSpace(v), nil
		}
	}
	// Some early tokens return bytes32
	if len(out) == 32 {
		return strings.TrimSpace(strings.TrimRight(string(out), "\x00")), nil
	}
	return "", fmt.Errorf("cannot decode %s result of %d bytes", method, len(out))
}

func (s *Source) callUint8(ctx context.Context, to common.Address, method string) (uint8, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return 0, err
	}
	out, err := s.ethCall(ctx, to, data)
	if err != nil {
		return 0, err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected %s type %T", method, values[0])
	}
	return v, nil
}

func fallbackLabel(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
