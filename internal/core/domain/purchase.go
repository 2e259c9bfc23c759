package domain

import (
	"fmt"
	"time"
)

// PurchaseEvent is one detected on-chain buy as reported by a chain data source.
// (Chain, TxID, Contract) identifies it.
type PurchaseEvent struct {
	Chain        ChainID
	Contract     ContractAddress
	TokenName    string
	TokenSymbol  string
	NativeAmount float64
	TokenAmount  float64
	Buyer        string
	TxID         string
	BlockNumber  uint64
	BlockTime    time.Time
}

// EventKey identifies a purchase within its chain. Contract is the normalized
// ContractAddress.Key, so one transaction buying two watched tokens yields two keys.
type EventKey struct {
	TxID     string
	Contract string
}

func (k EventKey) String() string {
	return k.TxID + "/" + k.Contract
}

// Key returns the dedup key of the event.
func (e PurchaseEvent) Key() EventKey {
	return EventKey{TxID: e.TxID, Contract: e.Contract.Key()}
}

// Validate reports a missing or malformed field as ErrInvalidPurchaseEvent.
func (e PurchaseEvent) Validate() error {
	switch {
	case e.Chain == "":
		return fmt.Errorf("%w: missing chain", ErrInvalidPurchaseEvent)
	case e.Contract == "":
		return fmt.Errorf("%w: missing contract", ErrInvalidPurchaseEvent)
	case e.TxID == "":
		return fmt.Errorf("%w: missing transaction id", ErrInvalidPurchaseEvent)
	case e.Buyer == "":
		return fmt.Errorf("%w: missing buyer", ErrInvalidPurchaseEvent)
	case e.TokenName == "" || e.TokenSymbol == "":
		return fmt.Errorf("%w: missing token name or symbol", ErrInvalidPurchaseEvent)
	case e.NativeAmount < 0 || e.TokenAmount < 0:
		return fmt.Errorf("%w: negative amount", ErrInvalidPurchaseEvent)
	}
	return nil
}

// MarketSnapshot is a point-in-time market read for one token.
type MarketSnapshot struct {
	PriceUSD       float64
	MarketCapUSD   float64
	TotalSupply    float64
	NativePriceUSD float64 // 0 when the source could not price the native asset
	WalletBalance  float64 // buyer's token balance, filled per event
	FetchedAt      time.Time
}

// RenderedMessage is a ready-to-send notification.
type RenderedMessage struct {
	Destination  string
	Text         string
	AnimationURL string
}
