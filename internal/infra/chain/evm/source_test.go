package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage/memory"
)

var (
	token  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	pool   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	buyer  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	other  = common.HexToAddress("0x4444444444444444444444444444444444444444")
	oneEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// fakeNode answers the JSON-RPC methods the source uses.
type fakeNode struct {
	mu        sync.Mutex
	head      uint64
	logs      []rpcLog
	txs       map[common.Hash]rpcTx
	blockTime uint64
	name      string
	symbol    string
	decimals  uint8
	balances  map[common.Address]*big.Int
	calls     map[string]int
}

func newFakeNode(head uint64) *fakeNode {
	return &fakeNode{
		head:      head,
		txs:       make(map[common.Hash]rpcTx),
		blockTime: 1700000000,
		name:      "Pepe",
		symbol:    "PEPE",
		decimals:  18,
		balances:  make(map[common.Address]*big.Int),
		calls:     make(map[string]int),
	}
}

func (f *fakeNode) CallResult(ctx context.Context, out any, method string, params ...any) error {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()

	var result any
	switch method {
	case "eth_blockNumber":
		result = hexutil.Uint64(f.head)
	case "eth_getLogs":
		result = f.logs
	case "eth_getTransactionByHash":
		if tx, ok := f.txs[params[0].(common.Hash)]; ok {
			result = tx
		}
	case "eth_getBlockByNumber":
		result = rpcBlockHeader{Timestamp: hexutil.Uint64(f.blockTime)}
	case "eth_call":
		call := params[0].(map[string]any)
		data, err := f.ethCall(call["data"].(hexutil.Bytes))
		if err != nil {
			return err
		}
		result = hexutil.Bytes(data)
	default:
		return fmt.Errorf("unexpected method %s", method)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeNode) ethCall(data []byte) ([]byte, error) {
	selector := data[:4]
	switch {
	case bytes.Equal(selector, erc20ABI.Methods["name"].ID):
		return erc20ABI.Methods["name"].Outputs.Pack(f.name)
	case bytes.Equal(selector, erc20ABI.Methods["symbol"].ID):
		return erc20ABI.Methods["symbol"].Outputs.Pack(f.symbol)
	case bytes.Equal(selector, erc20ABI.Methods["decimals"].ID):
		return erc20ABI.Methods["decimals"].Outputs.Pack(f.decimals)
	case bytes.Equal(selector, erc20ABI.Methods["balanceOf"].ID):
		args, err := erc20ABI.Methods["balanceOf"].Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		bal, ok := f.balances[args[0].(common.Address)]
		if !ok {
			bal = big.NewInt(0)
		}
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(bal)
	}
	return nil, fmt.Errorf("unknown selector %x", selector)
}

func (f *fakeNode) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func transferLog(txHash common.Hash, block uint64, index uint, from, to common.Address, amount *big.Int) rpcLog {
	return rpcLog{
		Address:     token,
		Topics:      []common.Hash{TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(amount.Bytes(), 32),
		BlockNumber: hexutil.Uint64(block),
		TxHash:      txHash,
		LogIndex:    hexutil.Uint(index),
	}
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneEth)
}

func TestTransferTopic(t *testing.T) {
	const want = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if TransferTopic.Hex() != want {
		t.Errorf("unexpected transfer topic %s", TransferTopic.Hex())
	}
}

func TestSource_FirstFetchAnchors(t *testing.T) {
	node := newFakeNode(120)
	cursors := memory.NewCursorRepo()
	src := NewSource(domain.ChainETH, node, cursors, Config{Confirmations: 2})

	batch, err := src.FetchNewPurchases(context.Background(), []domain.ContractAddress{domain.ContractAddress(token.Hex())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Events) != 0 {
		t.Errorf("anchor fetch must not report events, got %d", len(batch.Events))
	}
	if len(batch.Cursors) != 1 || batch.Cursors[0].Position != "118" {
		t.Fatalf("expected anchor cursor at 118, got %+v", batch.Cursors)
	}
	if node.callCount("eth_getLogs") != 0 {
		t.Error("anchor fetch must not scan logs")
	}

	// Nothing persisted until commit
	if cur, _ := cursors.Get(context.Background(), domain.ChainETH, cursorKey); cur != nil {
		t.Fatal("cursor saved before commit")
	}
	if err := src.Commit(context.Background(), batch); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if cur, _ := cursors.Get(context.Background(), domain.ChainETH, cursorKey); cur == nil || cur.Position != "118" {
		t.Errorf("expected committed cursor 118, got %+v", cur)
	}
}

func TestSource_FetchPurchases(t *testing.T) {
	ctx := context.Background()
	node := newFakeNode(112)
	cursors := memory.NewCursorRepo()
	_ = cursors.Save(ctx, domain.Cursor{Chain: domain.ChainETH, Key: cursorKey, Position: "99"})

	buyTx := common.HexToHash("0xaa")
	transferTx := common.HexToHash("0xbb")
	swapTx := common.HexToHash("0xcc")

	node.txs[buyTx] = rpcTx{Hash: buyTx, From: buyer, Value: (*hexutil.Big)(new(big.Int).Div(oneEth, big.NewInt(2)))}
	node.txs[transferTx] = rpcTx{Hash: transferTx, From: other, Value: (*hexutil.Big)(oneEth)}
	node.txs[swapTx] = rpcTx{Hash: swapTx, From: buyer, Value: (*hexutil.Big)(big.NewInt(0))}
	node.logs = []rpcLog{
		transferLog(transferTx, 105, 0, other, buyer, tokens(10)), // recipient is not the sender
		transferLog(buyTx, 103, 4, pool, buyer, tokens(500)),
		transferLog(buyTx, 103, 2, pool, buyer, tokens(1000)),
		transferLog(swapTx, 104, 0, pool, buyer, tokens(7)), // no native value
	}

	src := NewSource(domain.ChainETH, node, cursors, Config{Confirmations: 2})
	batch, err := src.FetchNewPurchases(ctx, []domain.ContractAddress{
		domain.ContractAddress(token.Hex()),
		domain.ContractAddress("0x1111111111111111111111111111111111111111"), // duplicate by key
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch.Events) != 1 {
		t.Fatalf("expected 1 purchase, got %d: %+v", len(batch.Events), batch.Events)
	}
	ev := batch.Events[0]
	if ev.TxID != buyTx.Hex() || ev.Buyer != buyer.Hex() {
		t.Errorf("unexpected event identity %+v", ev)
	}
	if ev.NativeAmount != 0.5 {
		t.Errorf("expected 0.5 native, got %v", ev.NativeAmount)
	}
	if ev.TokenAmount != 1500 {
		t.Errorf("expected summed 1500 tokens, got %v", ev.TokenAmount)
	}
	if ev.TokenName != "Pepe" || ev.TokenSymbol != "PEPE" {
		t.Errorf("unexpected metadata %s/%s", ev.TokenName, ev.TokenSymbol)
	}
	if ev.BlockNumber != 103 || !ev.BlockTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected block info %d %v", ev.BlockNumber, ev.BlockTime)
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("event should be valid: %v", err)
	}

	if len(batch.Cursors) != 1 || batch.Cursors[0].Position != "110" {
		t.Errorf("expected cursor at confirmed head 110, got %+v", batch.Cursors)
	}

	// Re-fetch without commit yields the same events
	again, err := src.FetchNewPurchases(ctx, []domain.ContractAddress{domain.ContractAddress(token.Hex())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again.Events) != 1 || again.Events[0].TxID != ev.TxID {
		t.Errorf("expected identical re-fetch, got %+v", again.Events)
	}
}

func TestSource_BlockRangeCapped(t *testing.T) {
	ctx := context.Background()
	node := newFakeNode(10_000)
	cursors := memory.NewCursorRepo()
	_ = cursors.Save(ctx, domain.Cursor{Chain: domain.ChainBNB, Key: cursorKey, Position: "1000"})

	src := NewSource(domain.ChainBNB, node, cursors, Config{MaxBlockRange: 100})
	batch, err := src.FetchNewPurchases(ctx, []domain.ContractAddress{domain.ContractAddress(token.Hex())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Cursors[0].Position != "1100" {
		t.Errorf("expected capped range ending at 1100, got %s", batch.Cursors[0].Position)
	}
}

func TestSource_CaughtUp(t *testing.T) {
	ctx := context.Background()
	node := newFakeNode(50)
	cursors := memory.NewCursorRepo()
	_ = cursors.Save(ctx, domain.Cursor{Chain: domain.ChainBase, Key: cursorKey, Position: "50"})

	src := NewSource(domain.ChainBase, node, cursors, Config{})
	batch, err := src.FetchNewPurchases(ctx, []domain.ContractAddress{domain.ContractAddress(token.Hex())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !batch.Empty() {
		t.Errorf("expected empty batch, got %+v", batch)
	}
}

func TestSource_TokenBalance(t *testing.T) {
	node := newFakeNode(1)
	node.decimals = 6
	node.balances[buyer] = big.NewInt(2_500_000)

	src := NewSource(domain.ChainETH, node, memory.NewCursorRepo(), Config{})
	bal, err := src.TokenBalance(context.Background(), buyer.Hex(), domain.ContractAddress(token.Hex()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal != 2.5 {
		t.Errorf("expected 2.5, got %v", bal)
	}

	if _, err := src.TokenBalance(context.Background(), "not-an-address", domain.ContractAddress(token.Hex())); err == nil {
		t.Error("expected invalid wallet error")
	}
}

func TestSource_TokenInfoCached(t *testing.T) {
	node := newFakeNode(1)
	src := NewSource(domain.ChainETH, node, memory.NewCursorRepo(), Config{})

	for i := 0; i < 3; i++ {
		if _, err := src.TokenInfo(context.Background(), domain.ContractAddress(token.Hex())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := node.callCount("eth_call"); got != 3 {
		t.Errorf("expected 3 eth_calls (decimals, name, symbol) once, got %d", got)
	}
}

func TestToUnits(t *testing.T) {
	tests := []struct {
		raw      *big.Int
		decimals uint8
		want     float64
	}{
		{big.NewInt(1_000_000), 6, 1},
		{oneEth, 18, 1},
		{big.NewInt(42), 0, 42},
		{nil, 18, 0},
	}
	for _, tt := range tests {
		if got := ToUnits(tt.raw, tt.decimals); got != tt.want {
			t.Errorf("ToUnits(%v, %d) = %v, want %v", tt.raw, tt.decimals, got, tt.want)
		}
	}
}
