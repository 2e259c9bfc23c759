// Package solana detects SPL token purchases through the Solana JSON-RPC API.
package solana

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	logger "log/slog"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/chain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

const lamportsPerSOL = 1_000_000_000

// maxPages bounds backward signature paging per mint and fetch.
const maxPages = 4

// RPC is the subset of *rpc.Client the source uses.
type RPC interface {
	GetSignaturesForAddressWithOpts(
		ctx context.Context,
		account sol.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)
	GetTransaction(
		ctx context.Context,
		txSig sol.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
	GetTokenAccountBalance(
		ctx context.Context,
		account sol.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)
}

// Config tunes signature scanning.
type Config struct {
	SignatureLimit int
	Concurrency    int
}

// Source detects purchases per mint. The buyer is the fee payer; a purchase is a
// transaction in which the payer's balance of the mint rises while their SOL balance,
// net of the fee, falls.
type Source struct {
	client   RPC
	cursors  storage.CursorRepository
	resolver chain.TokenInfoResolver
	cfg      Config
	log      logger.Logger

	infoMu sync.RWMutex
	info   map[string]chain.TokenInfo
}

// NewSource creates a Solana data source. resolver supplies token names and symbols.
func NewSource(
	client RPC,
	cursors storage.CursorRepository,
	resolver chain.TokenInfoResolver,
	cfg Config,
) *Source {
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = 25
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Source{
		client:   client,
		cursors:  cursors,
		resolver: resolver,
		cfg:      cfg,
		log:      *logger.Default().With("component", "solana-source", "chain", domain.ChainSolana),
		info:     make(map[string]chain.TokenInfo),
	}
}

func (s *Source) Chain() domain.ChainID {
	return domain.ChainSolana
}

// FetchNewPurchases reads signatures newer than each mint's cursor. A mint without a
// cursor is anchored at its newest signature and reports nothing.
func (s *Source) FetchNewPurchases(
	ctx context.Context,
	contracts []domain.ContractAddress,
) (*chain.Batch, error) {
	contracts = chain.UniqueContracts(contracts)
	results := make([]mintResult, len(contracts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range contracts {
		g.Go(func() error {
			res, err := s.fetchMint(gctx, c)
			if err != nil {
				return fmt.Errorf("mint %s: %w", c, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &chain.Batch{Chain: domain.ChainSolana}
	for _, r := range results {
		batch.Events = append(batch.Events, r.events...)
		if r.cursor != nil {
			batch.Cursors = append(batch.Cursors, *r.cursor)
		}
	}
	chain.SortEvents(batch.Events)
	return batch, nil
}

// Commit persists the per-mint cursors.
func (s *Source) Commit(ctx context.Context, batch *chain.Batch) error {
	return chain.SaveCursors(ctx, s.cursors, batch)
}

type mintResult struct {
	events []domain.PurchaseEvent
	cursor *domain.Cursor
}

func (s *Source) fetchMint(ctx context.Context, contract domain.ContractAddress) (mintResult, error) {
	mint, err := sol.PublicKeyFromBase58(string(contract))
	if err != nil {
		return mintResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidAddress, err)
	}

	cur, err := s.cursors.Get(ctx, domain.ChainSolana, mint.String())
	if err != nil {
		return mintResult{}, fmt.Errorf("failed to load cursor: %w", err)
	}

	if cur == nil {
		sigs, err := s.signatures(ctx, mint, sol.Signature{}, sol.Signature{}, 1)
		if err != nil {
			return mintResult{}, err
		}
		if len(sigs) == 0 {
			return mintResult{}, nil
		}
		s.log.Info("Anchoring mint at newest signature", "mint", mint, "signature", sigs[0].Signature)
		return mintResult{cursor: s.cursorAt(mint, sigs[0].Signature)}, nil
	}

	until, err := sol.SignatureFromBase58(cur.Position)
	if err != nil {
		return mintResult{}, fmt.Errorf("invalid cursor position %q: %w", cur.Position, err)
	}

	// Newest first; page backwards until the cursor is reached
	var sigs []*rpc.TransactionSignature
	before := sol.Signature{}
	for page := 0; page < maxPages; page++ {
		batch, err := s.signatures(ctx, mint, before, until, s.cfg.SignatureLimit)
		if err != nil {
			return mintResult{}, err
		}
		sigs = append(sigs, batch...)
		if len(batch) < s.cfg.SignatureLimit {
			break
		}
		before = batch[len(batch)-1].Signature
		if page == maxPages-1 {
			s.log.Warn("Signature backlog exceeds page budget, older signatures skipped",
				"mint", mint,
				"fetched", len(sigs),
			)
		}
	}
	if len(sigs) == 0 {
		return mintResult{}, nil
	}

	// Oldest first for chain order; failed transactions are not purchases
	pending := make([]*rpc.TransactionSignature, 0, len(sigs))
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].Err == nil {
			pending = append(pending, sigs[i])
		}
	}

	found := make([]*domain.PurchaseEvent, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, sig := range pending {
		g.Go(func() error {
			ev, err := s.inspect(gctx, mint, sig)
			if err != nil {
				return err
			}
			found[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return mintResult{}, err
	}

	res := mintResult{cursor: s.cursorAt(mint, sigs[0].Signature)}
	for _, ev := range found {
		if ev == nil {
			continue
		}
		info, err := s.tokenInfo(ctx, contract)
		if err != nil {
			return mintResult{}, err
		}
		ev.TokenName = info.Name
		ev.TokenSymbol = info.Symbol
		res.events = append(res.events, *ev)
	}
	return res, nil
}

func (s *Source) signatures(
	ctx context.Context,
	mint sol.PublicKey,
	before, until sol.Signature,
	limit int,
) ([]*rpc.TransactionSignature, error) {
	out, err := s.client.GetSignaturesForAddressWithOpts(ctx, mint, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Before:     before,
		Until:      until,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress failed: %w", err)
	}
	return out, nil
}

func (s *Source) inspect(
	ctx context.Context,
	mint sol.PublicKey,
	sig *rpc.TransactionSignature,
) (*domain.PurchaseEvent, error) {
	version := uint64(0)
	res, err := s.client.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
		Encoding:                       sol.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s failed: %w", sig.Signature, err)
	}
	if res == nil || res.Transaction == nil || res.Meta == nil {
		return nil, nil
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		s.log.Warn("Undecodable transaction", "signature", sig.Signature, "error", err)
		return nil, nil
	}
	if tx == nil || len(tx.Message.AccountKeys) == 0 {
		return nil, nil
	}

	blockTime := sig.BlockTime
	if res.BlockTime != nil {
		blockTime = res.BlockTime
	}
	var ts time.Time
	if blockTime != nil {
		ts = blockTime.Time().UTC()
	}

	ev := DetectPurchase(mint, tx.Message.AccountKeys[0], res.Meta)
	if ev == nil {
		return nil, nil
	}
	ev.TxID = sig.Signature.String()
	ev.BlockNumber = res.Slot
	ev.BlockTime = ts
	return ev, nil
}

// DetectPurchase applies the purchase rule to a transaction's balance changes.
// Name, symbol, tx id and block fields are left for the caller.
func DetectPurchase(mint, payer sol.PublicKey, meta *rpc.TransactionMeta) *domain.PurchaseEvent {
	if meta == nil || meta.Err != nil || len(meta.PreBalances) == 0 || len(meta.PostBalances) == 0 {
		return nil
	}

	received := ownerBalance(meta.PostTokenBalances, mint, payer) - ownerBalance(meta.PreTokenBalances, mint, payer)
	if received <= 0 {
		return nil
	}

	spent := int64(meta.PreBalances[0]) - int64(meta.PostBalances[0]) - int64(meta.Fee)
	if spent <= 0 {
		return nil
	}

	return &domain.PurchaseEvent{
		Chain:        domain.ChainSolana,
		Contract:     domain.ContractAddress(mint.String()),
		NativeAmount: float64(spent) / lamportsPerSOL,
		TokenAmount:  received,
		Buyer:        payer.String(),
	}
}

func ownerBalance(balances []rpc.TokenBalance, mint, owner sol.PublicKey) float64 {
	var total float64
	for _, b := range balances {
		if b.Owner == nil || !b.Owner.Equals(owner) || !b.Mint.Equals(mint) {
			continue
		}
		total += uiAmount(b.UiTokenAmount)
	}
	return total
}

func uiAmount(a *rpc.UiTokenAmount) float64 {
	if a == nil {
		return 0
	}
	if a.UiAmountString != "" {
		if v, err := strconv.ParseFloat(a.UiAmountString, 64); err == nil {
			return v
		}
	}
	if a.UiAmount != nil {
		return *a.UiAmount
	}
	raw, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0
	}
	return raw / math.Pow10(int(a.Decimals))
}

func (s *Source) cursorAt(mint sol.PublicKey, sig sol.Signature) *domain.Cursor {
	return &domain.Cursor{
		Chain:     domain.ChainSolana,
		Key:       mint.String(),
		Position:  sig.String(),
		UpdatedAt: time.Now(),
	}
}

func (s *Source) tokenInfo(ctx context.Context, contract domain.ContractAddress) (chain.TokenInfo, error) {
	key := contract.Key()
	s.infoMu.RLock()
	info, ok := s.info[key]
	s.infoMu.RUnlock()
	if ok {
		return info, nil
	}

	info, err := s.resolver.TokenInfo(ctx, domain.ChainSolana, contract)
	if err != nil || info.Name == "" || info.Symbol == "" {
		// Unlisted tokens are still reported under a placeholder
		s.log.Debug("Token info unavailable", "mint", contract, "error", err)
		label := string(contract)
		if len(label) > 4 {
			label = label[:4]
		}
		return chain.TokenInfo{Name: "Unknown Token", Symbol: strings.ToUpper(label)}, nil
	}

	s.infoMu.Lock()
	s.info[key] = info
	s.infoMu.Unlock()
	return info, nil
}

// TokenBalance reads the wallet's associated token account balance. A missing account
// is a zero balance.
func (s *Source) TokenBalance(
	ctx context.Context,
	wallet string,
	contract domain.ContractAddress,
) (float64, error) {
	owner, err := sol.PublicKeyFromBase58(wallet)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, wallet)
	}
	mint, err := sol.PublicKeyFromBase58(string(contract))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, contract)
	}
	ata, _, err := sol.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	res, err := s.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if isAccountNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("getTokenAccountBalance failed: %w", err)
	}
	if res == nil {
		return 0, nil
	}
	return uiAmount(res.Value), nil
}

var errAccountNotFound = errors.New("account not found")

func isAccountNotFound(err error) bool {
	if errors.Is(err, errAccountNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}
