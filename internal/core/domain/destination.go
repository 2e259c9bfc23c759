package domain

import "time"

// DefaultEmoji is used when a destination has no custom glyph.
const DefaultEmoji = "🟢"

// DestinationConfig is the watch configuration of one notification destination.
type DestinationConfig struct {
	ID           string
	Watches      map[ChainID][]ContractAddress
	AnimationURL string
	Emoji        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDestination returns an empty configuration with the default emoji.
func NewDestination(id string) DestinationConfig {
	now := time.Now().UTC()
	return DestinationConfig{
		ID:        id,
		Watches:   make(map[ChainID][]ContractAddress),
		Emoji:     DefaultEmoji,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Glyph returns the custom emoji or the default one.
func (d DestinationConfig) Glyph() string {
	if d.Emoji == "" {
		return DefaultEmoji
	}
	return d.Emoji
}

// Watching returns the contracts watched on a chain.
func (d DestinationConfig) Watching(chain ChainID) []ContractAddress {
	return d.Watches[chain]
}

// HasWatch reports whether the contract is in the chain's watch set.
func (d DestinationConfig) HasWatch(chain ChainID, contract ContractAddress) bool {
	for _, c := range d.Watches[chain] {
		if SameAddress(c, contract) {
			return true
		}
	}
	return false
}

// AddWatch inserts a contract into the chain's watch set.
// It returns false when the contract was already watched.
func (d *DestinationConfig) AddWatch(chain ChainID, contract ContractAddress) bool {
	if d.HasWatch(chain, contract) {
		return false
	}
	if d.Watches == nil {
		d.Watches = make(map[ChainID][]ContractAddress)
	}
	d.Watches[chain] = append(d.Watches[chain], contract)
	return true
}

// RemoveWatch deletes a contract from the chain's watch set.
// It returns false when the contract was not watched.
func (d *DestinationConfig) RemoveWatch(chain ChainID, contract ContractAddress) bool {
	list := d.Watches[chain]
	for i, c := range list {
		if SameAddress(c, contract) {
			d.Watches[chain] = append(list[:i:i], list[i+1:]...)
			if len(d.Watches[chain]) == 0 {
				delete(d.Watches, chain)
			}
			return true
		}
	}
	return false
}

// WatchCount returns the total number of watched contracts across chains.
func (d DestinationConfig) WatchCount() int {
	n := 0
	for _, list := range d.Watches {
		n += len(list)
	}
	return n
}

// Clone returns a deep copy.
func (d DestinationConfig) Clone() DestinationConfig {
	out := d
	out.Watches = make(map[ChainID][]ContractAddress, len(d.Watches))
	for chain, list := range d.Watches {
		out.Watches[chain] = append([]ContractAddress(nil), list...)
	}
	return out
}
