package domain

import "errors"

var (
	ErrUnknownChain           = errors.New("unknown chain")
	ErrInvalidPurchaseEvent   = errors.New("invalid purchase event")
	ErrDataSourceUnavailable  = errors.New("chain data source unavailable")
	ErrMarketDataUnavailable  = errors.New("market data unavailable")
	ErrNotifierDeliveryFailed = errors.New("notifier delivery failed")
	ErrConfigStoreUnavailable = errors.New("config store unavailable")

	// ErrInvalidAddress is returned when a contract or wallet address fails chain validation.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrNotFound is returned when a destination or watch does not exist.
	ErrNotFound = errors.New("not found")
)
