package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/chain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

// cursorKey is the single cursor partition for log scans.
const cursorKey = "blocks"

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Caller performs decoded JSON-RPC calls; routing.Client satisfies it.
type Caller interface {
	CallResult(ctx context.Context, out any, method string, params ...any) error
}

// Config tunes the log scan.
type Config struct {
	Confirmations uint64
	MaxBlockRange uint64
}

// Source detects ERC-20 purchases on an EVM chain.
//
// A purchase is a Transfer of a watched token to the transaction sender in a
// transaction that also pays native value.
type Source struct {
	chainID domain.ChainID
	client  Caller
	cursors storage.CursorRepository
	cfg     Config
	log     logger.Logger

	metaMu sync.RWMutex
	meta   map[string]chain.TokenInfo // by contract key
}

// NewSource creates an EVM data source.
func NewSource(
	chainID domain.ChainID,
	client Caller,
	cursors storage.CursorRepository,
	cfg Config,
) *Source {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 500
	}
	return &Source{
		chainID: chainID,
		client:  client,
		cursors: cursors,
		cfg:     cfg,
		log:     *logger.Default().With("component", "evm-source", "chain", chainID),
		meta:    make(map[string]chain.TokenInfo),
	}
}

func (s *Source) Chain() domain.ChainID {
	return s.chainID
}

// rpcLog is the subset of an eth_getLogs entry the source reads.
type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	LogIndex    hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

type rpcTx struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	Value *hexutil.Big    `json:"value"`
	To    *common.Address `json:"to"`
}

type rpcBlockHeader struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// GetLatestBlock returns the current head.
func (s *Source) GetLatestBlock(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := s.client.CallResult(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	return uint64(head), nil
}

// FetchNewPurchases scans confirmed blocks after the cursor. The first scan of a chain
// anchors the cursor at the confirmed head and reports nothing.
func (s *Source) FetchNewPurchases(
	ctx context.Context,
	contracts []domain.ContractAddress,
) (*chain.Batch, error) {
	batch := &chain.Batch{Chain: s.chainID}

	head, err := s.GetLatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	if head < s.cfg.Confirmations {
		return batch, nil
	}
	safe := head - s.cfg.Confirmations

	cur, err := s.cursors.Get(ctx, s.chainID, cursorKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}
	if cur == nil {
		s.log.Info("Anchoring log scan at confirmed head", "block", safe)
		batch.Cursors = append(batch.Cursors, s.cursorAt(safe))
		return batch, nil
	}

	last, err := strconv.ParseUint(cur.Position, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor position %q: %w", cur.Position, err)
	}
	from := last + 1
	if from > safe {
		return batch, nil
	}
	to := min(safe, from+s.cfg.MaxBlockRange-1)

	contracts = chain.UniqueContracts(contracts)
	if len(contracts) > 0 {
		events, err := s.scan(ctx, contracts, from, to)
		if err != nil {
			return nil, err
		}
		batch.Events = events
	}
	batch.Cursors = append(batch.Cursors, s.cursorAt(to))

	s.log.Debug("Scanned block range",
		"from", from,
		"to", to,
		"contracts", len(contracts),
		"purchases", len(batch.Events),
	)
	return batch, nil
}

// Commit persists the batch cursor.
func (s *Source) Commit(ctx context.Context, batch *chain.Batch) error {
	return chain.SaveCursors(ctx, s.cursors, batch)
}

func (s *Source) cursorAt(block uint64) domain.Cursor {
	return domain.Cursor{
		Chain:     s.chainID,
		Key:       cursorKey,
		Position:  strconv.FormatUint(block, 10),
		UpdatedAt: time.Now(),
	}
}

// purchaseKey groups every watched-token transfer of one tx into a single purchase.
type purchaseKey struct {
	tx       common.Hash
	contract common.Address
}

func (s *Source) scan(
	ctx context.Context,
	contracts []domain.ContractAddress,
	from, to uint64,
) ([]domain.PurchaseEvent, error) {
	addrs := make([]common.Address, 0, len(contracts))
	for _, c := range contracts {
		addrs = append(addrs, common.HexToAddress(string(c)))
	}

	filter := map[string]any{
		"fromBlock": hexutil.EncodeUint64(from),
		"toBlock":   hexutil.EncodeUint64(to),
		"address":   addrs,
		"topics":    [][]common.Hash{{TransferTopic}},
	}
	var logs []rpcLog
	if err := s.client.CallResult(ctx, &logs, "eth_getLogs", filter); err != nil {
		return nil, fmt.Errorf("eth_getLogs failed: %w", err)
	}

	valid := logs[:0]
	txHashes := make(map[common.Hash]struct{})
	for _, l := range logs {
		if l.Removed || len(l.Topics) < 3 || l.Topics[0] != TransferTopic {
			continue
		}
		valid = append(valid, l)
		txHashes[l.TxHash] = struct{}{}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].BlockNumber != valid[j].BlockNumber {
			return valid[i].BlockNumber < valid[j].BlockNumber
		}
		return valid[i].LogIndex < valid[j].LogIndex
	})

	txs, err := s.fetchTransactions(ctx, txHashes)
	if err != nil {
		return nil, err
	}

	var order []purchaseKey
	amounts := make(map[purchaseKey]*big.Int)
	blocks := make(map[purchaseKey]uint64)
	for _, l := range valid {
		tx := txs[l.TxHash]
		if tx == nil || tx.Value == nil || tx.Value.ToInt().Sign() <= 0 {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != tx.From {
			continue
		}
		k := purchaseKey{tx: l.TxHash, contract: l.Address}
		amount := new(big.Int).SetBytes(l.Data)
		if sum, ok := amounts[k]; ok {
			sum.Add(sum, amount)
			continue
		}
		amounts[k] = amount
		blocks[k] = uint64(l.BlockNumber)
		order = append(order, k)
	}

	blockTimes := make(map[uint64]time.Time)
	events := make([]domain.PurchaseEvent, 0, len(order))
	for _, k := range order {
		tx := txs[k.tx]
		contract := domain.ContractAddress(k.contract.Hex())
		info, err := s.TokenInfo(ctx, contract)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve token %s: %w", contract, err)
		}

		block := blocks[k]
		ts, ok := blockTimes[block]
		if !ok {
			ts, err = s.blockTime(ctx, block)
			if err != nil {
				return nil, err
			}
			blockTimes[block] = ts
		}

		events = append(events, domain.PurchaseEvent{
			Chain:        s.chainID,
			Contract:     contract,
			TokenName:    info.Name,
			TokenSymbol:  info.Symbol,
			NativeAmount: ToUnits(tx.Value.ToInt(), 18),
			TokenAmount:  ToUnits(amounts[k], info.Decimals),
			Buyer:        tx.From.Hex(),
			TxID:         k.tx.Hex(),
			BlockNumber:  block,
			BlockTime:    ts,
		})
	}
	return events, nil
}

func (s *Source) fetchTransactions(
	ctx context.Context,
	hashes map[common.Hash]struct{},
) (map[common.Hash]*rpcTx, error) {
	var (
		mu  sync.Mutex
		out = make(map[common.Hash]*rpcTx, len(hashes))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(5) // Limit concurrency to prevent RPC overload
	for h := range hashes {
		g.Go(func() error {
			var tx *rpcTx
			if err := s.client.CallResult(ctx, &tx, "eth_getTransactionByHash", h); err != nil {
				return fmt.Errorf("eth_getTransactionByHash %s failed: %w", h.Hex(), err)
			}
			mu.Lock()
			out[h] = tx
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	var header *rpcBlockHeader
	if err := s.client.CallResult(ctx, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return time.Time{}, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	if header == nil {
		return time.Time{}, fmt.Errorf("block %d not found", number)
	}
	return time.Unix(int64(header.Timestamp), 0).UTC(), nil
}

// ErrEmptyResult is returned when an eth_call yields no data, e.g. for a non-contract address.
var ErrEmptyResult = errors.New("empty eth_call result")

func (s *Source) ethCall(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	call := map[string]any{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	var out hexutil.Bytes
	if err := s.client.CallResult(ctx, &out, "eth_call", call, "latest"); err != nil {
		return nil, fmt.Errorf("eth_call failed: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyResult
	}
	return out, nil
}

// ToUnits converts a raw integer amount to whole units.
func ToUnits(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	if decimals > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, scale)
	}
	v, _ := f.Float64()
	return v
}
