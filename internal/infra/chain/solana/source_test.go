package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/chain"
	"github.com/vietddude/buywatch/internal/infra/storage/memory"
)

func key(b byte) sol.PublicKey {
	return sol.PublicKeyFromBytes(bytes.Repeat([]byte{b}, 32))
}

func sig(b byte) sol.Signature {
	var s sol.Signature
	s[0] = b
	s[63] = b
	return s
}

var (
	mint  = key(7)
	payer = key(9)
	other = key(11)
)

type fakeRPC struct {
	mu       sync.Mutex
	sigs     []*rpc.TransactionSignature // newest first
	txs      map[sol.Signature]*rpc.GetTransactionResult
	balance  *rpc.GetTokenAccountBalanceResult
	balErr   error
	txCalls  int
	sigCalls int
}

func (f *fakeRPC) GetSignaturesForAddressWithOpts(
	ctx context.Context,
	account sol.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	f.mu.Lock()
	f.sigCalls++
	f.mu.Unlock()

	started := opts.Before.IsZero()
	var out []*rpc.TransactionSignature
	for _, s := range f.sigs {
		if !started {
			started = s.Signature == opts.Before
			continue
		}
		if !opts.Until.IsZero() && s.Signature == opts.Until {
			break
		}
		out = append(out, s)
		if opts.Limit != nil && len(out) == *opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRPC) GetTransaction(
	ctx context.Context,
	txSig sol.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	res, ok := f.txs[txSig]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txSig)
	}
	return res, nil
}

func (f *fakeRPC) GetTokenAccountBalance(
	ctx context.Context,
	account sol.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetTokenAccountBalanceResult, error) {
	return f.balance, f.balErr
}

type fakeResolver struct {
	info chain.TokenInfo
	err  error
}

func (r fakeResolver) TokenInfo(ctx context.Context, c domain.ChainID, contract domain.ContractAddress) (chain.TokenInfo, error) {
	return r.info, r.err
}

func txResult(t *testing.T, feePayer sol.PublicKey, slot uint64, meta *rpc.TransactionMeta) *rpc.GetTransactionResult {
	t.Helper()

	tx, err := sol.NewTransaction([]sol.Instruction{
		sol.NewInstruction(sol.SystemProgramID, sol.AccountMetaSlice{sol.Meta(feePayer).WRITE().SIGNER()}, []byte{2}),
	}, sol.Hash{}, sol.TransactionPayer(feePayer))
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	var env rpc.TransactionResultEnvelope
	encoded := fmt.Sprintf(`[%q,"base64"]`, base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, json.Unmarshal([]byte(encoded), &env))

	bt := sol.UnixTimeSeconds(1700000000)
	return &rpc.GetTransactionResult{Slot: slot, BlockTime: &bt, Transaction: &env, Meta: meta}
}

func tokenBalance(owner sol.PublicKey, amount string) rpc.TokenBalance {
	return rpc.TokenBalance{
		Owner:         owner.ToPointer(),
		Mint:          mint,
		UiTokenAmount: &rpc.UiTokenAmount{UiAmountString: amount, Decimals: 6},
	}
}

func buyMeta() *rpc.TransactionMeta {
	return &rpc.TransactionMeta{
		Fee:               5000,
		PreBalances:       []uint64{3_000_005_000, 1},
		PostBalances:      []uint64{1_000_000_000, 1},
		PreTokenBalances:  []rpc.TokenBalance{tokenBalance(payer, "10")},
		PostTokenBalances: []rpc.TokenBalance{tokenBalance(payer, "1010")},
	}
}

func TestDetectPurchase(t *testing.T) {
	t.Run("buy", func(t *testing.T) {
		ev := DetectPurchase(mint, payer, buyMeta())
		require.NotNil(t, ev)
		assert.Equal(t, 2.0, ev.NativeAmount)
		assert.Equal(t, 1000.0, ev.TokenAmount)
		assert.Equal(t, payer.String(), ev.Buyer)
		assert.Equal(t, domain.ContractAddress(mint.String()), ev.Contract)
	})

	t.Run("sell", func(t *testing.T) {
		meta := buyMeta()
		meta.PreTokenBalances, meta.PostTokenBalances = meta.PostTokenBalances, meta.PreTokenBalances
		meta.PreBalances, meta.PostBalances = []uint64{1_000_000_000}, []uint64{2_999_995_000}
		assert.Nil(t, DetectPurchase(mint, payer, meta))
	})

	t.Run("fee only", func(t *testing.T) {
		meta := buyMeta()
		meta.PreBalances = []uint64{1_000_005_000}
		meta.PostBalances = []uint64{1_000_000_000}
		assert.Nil(t, DetectPurchase(mint, payer, meta), "token received without SOL spent is a transfer")
	})

	t.Run("other owner", func(t *testing.T) {
		meta := buyMeta()
		meta.PostTokenBalances = []rpc.TokenBalance{tokenBalance(payer, "10"), tokenBalance(other, "1000")}
		assert.Nil(t, DetectPurchase(mint, payer, meta))
	})

	t.Run("failed tx", func(t *testing.T) {
		meta := buyMeta()
		meta.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
		assert.Nil(t, DetectPurchase(mint, payer, meta))
	})
}

func TestSource_FirstFetchAnchors(t *testing.T) {
	ctx := context.Background()
	client := &fakeRPC{sigs: []*rpc.TransactionSignature{{Signature: sig(3)}, {Signature: sig(2)}}}
	cursors := memory.NewCursorRepo()
	src := NewSource(client, cursors, fakeResolver{}, Config{})

	batch, err := src.FetchNewPurchases(ctx, []domain.ContractAddress{domain.ContractAddress(mint.String())})
	require.NoError(t, err)
	assert.Empty(t, batch.Events)
	require.Len(t, batch.Cursors, 1)
	assert.Equal(t, sig(3).String(), batch.Cursors[0].Position)
	assert.Equal(t, mint.String(), batch.Cursors[0].Key)
	assert.Zero(t, client.txCalls)

	require.NoError(t, src.Commit(ctx, batch))
	cur, err := cursors.Get(ctx, domain.ChainSolana, mint.String())
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, sig(3).String(), cur.Position)
}

func TestSource_FetchPurchases(t *testing.T) {
	ctx := context.Background()
	cursors := memory.NewCursorRepo()
	require.NoError(t, cursors.Save(ctx, domain.Cursor{
		Chain:    domain.ChainSolana,
		Key:      mint.String(),
		Position: sig(1).String(),
	}))

	sellMeta := buyMeta()
	sellMeta.PreTokenBalances, sellMeta.PostTokenBalances = sellMeta.PostTokenBalances, sellMeta.PreTokenBalances

	client := &fakeRPC{
		sigs: []*rpc.TransactionSignature{
			{Signature: sig(5), Slot: 50},
			{Signature: sig(4), Slot: 40, Err: map[string]any{"err": "failed"}},
			{Signature: sig(3), Slot: 30},
			{Signature: sig(2), Slot: 20},
			{Signature: sig(1), Slot: 10},
		},
		txs: map[sol.Signature]*rpc.GetTransactionResult{
			sig(5): txResult(t, payer, 50, buyMeta()),
			sig(3): txResult(t, payer, 30, sellMeta),
			sig(2): txResult(t, payer, 20, buyMeta()),
		},
	}
	resolver := fakeResolver{info: chain.TokenInfo{Name: "Bonk", Symbol: "BONK"}}
	src := NewSource(client, cursors, resolver, Config{SignatureLimit: 2})

	batch, err := src.FetchNewPurchases(ctx, []domain.ContractAddress{domain.ContractAddress(mint.String())})
	require.NoError(t, err)

	require.Len(t, batch.Events, 2)
	assert.Equal(t, sig(2).String(), batch.Events[0].TxID, "oldest first")
	assert.Equal(t, sig(5).String(), batch.Events[1].TxID)
	for _, ev := range batch.Events {
		assert.Equal(t, "Bonk", ev.TokenName)
		assert.Equal(t, "BONK", ev.TokenSymbol)
		assert.NoError(t, ev.Validate())
	}
	assert.Equal(t, uint64(20), batch.Events[0].BlockNumber)

	require.Len(t, batch.Cursors, 1)
	assert.Equal(t, sig(5).String(), batch.Cursors[0].Position)
	assert.Equal(t, 3, client.txCalls, "failed signature is not fetched")
}

func TestSource_UnresolvedTokenInfo(t *testing.T) {
	ctx := context.Background()
	cursors := memory.NewCursorRepo()
	require.NoError(t, cursors.Save(ctx, domain.Cursor{Chain: domain.ChainSolana, Key: mint.String(), Position: sig(1).String()}))

	client := &fakeRPC{
		sigs: []*rpc.TransactionSignature{{Signature: sig(2)}, {Signature: sig(1)}},
		txs:  map[sol.Signature]*rpc.GetTransactionResult{sig(2): txResult(t, payer, 20, buyMeta())},
	}
	src := NewSource(client, cursors, fakeResolver{err: fmt.Errorf("not listed")}, Config{})

	batch, err := src.FetchNewPurchases(ctx, []domain.ContractAddress{domain.ContractAddress(mint.String())})
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "Unknown Token", batch.Events[0].TokenName)
	assert.NotEmpty(t, batch.Events[0].TokenSymbol)
}

func TestSource_TokenBalance(t *testing.T) {
	ui := 12.5
	client := &fakeRPC{balance: &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: "12500000", Decimals: 6, UiAmount: &ui},
	}}
	src := NewSource(client, memory.NewCursorRepo(), fakeResolver{}, Config{})

	bal, err := src.TokenBalance(context.Background(), payer.String(), domain.ContractAddress(mint.String()))
	require.NoError(t, err)
	assert.Equal(t, 12.5, bal)

	client.balance, client.balErr = nil, errAccountNotFound
	bal, err = src.TokenBalance(context.Background(), payer.String(), domain.ContractAddress(mint.String()))
	require.NoError(t, err)
	assert.Zero(t, bal)

	_, err = src.TokenBalance(context.Background(), "0xnot-solana", domain.ContractAddress(mint.String()))
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}
