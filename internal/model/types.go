// Package model defines the data types shared across the watcher's components:
// addresses, transactions, configuration-facing wallets, and the events handed to
// the Sink.
package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Address is a 20-byte account identifier, always stored normalized to its
// lowercase 0x-prefixed hex form.
type Address string

// NormalizeAddress lowercases and 0x-prefixes a hex address string.
func NormalizeAddress(s string) Address {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return Address(s)
}

// Valid reports whether a matches the 20-byte hex shape.
func (a Address) Valid() bool {
	s := string(a)
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

func (a Address) String() string { return string(a) }

// Hash is a 32-byte transaction identifier, lowercase hex.
type Hash string

// NormalizeHash lowercases and 0x-prefixes a hex hash string.
func NormalizeHash(s string) Hash {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return Hash(s)
}

func (h Hash) String() string { return string(h) }

// RawTransaction is the subset of transaction fields the detection pipeline needs.
// To == "" denotes contract creation.
type RawTransaction struct {
	Hash        Hash
	From        Address
	To          Address
	Value       *big.Int // wei
	BlockNumber *uint64  // nil for a pending transaction
}

// IsContractCreation reports whether this transaction has no recipient.
func (t RawTransaction) IsContractCreation() bool {
	return t.To == ""
}

// WatchedWallet is one entry of the operator-curated watch-list.
type WatchedWallet struct {
	Label   string
	Address Address
}

// EventType is the closed enumeration of TransferEvent kinds.
type EventType int

const (
	// Pending marks an event detected from the mempool, before inclusion.
	Pending EventType = iota
	// Confirmed marks an event detected in a fetched, sequenced block.
	Confirmed
)

func (t EventType) String() string {
	switch t {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// WatchedSide is the closed enumeration of which side(s) of a transfer matched
// the watch-list.
type WatchedSide int

const (
	// From means only the sender matched.
	From WatchedSide = iota
	// To means only the recipient matched.
	To
	// Both means sender and recipient both matched.
	Both
)

func (s WatchedSide) String() string {
	switch s {
	case From:
		return "from"
	case To:
		return "to"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// ClassifySide determines WatchedSide from set membership; callers must ensure
// at least one side is watched before calling this.
func ClassifySide(fromWatched, toWatched bool) WatchedSide {
	switch {
	case fromWatched && toWatched:
		return Both
	case fromWatched:
		return From
	default:
		return To
	}
}

// TransferEvent is the unit handed to the Sink.
type TransferEvent struct {
	Type          EventType
	TxHash        Hash
	From          Address
	To            Address
	FromLabel     string // empty if From is unlabeled
	ToLabel       string // empty if To is unlabeled
	ValueWei      *big.Int
	ValueEth      string // decimal string, 18-digit scale
	BlockNumber   *uint64
	WatchedSide   WatchedSide
	SeenInMempool bool
	Timestamp     time.Time
}

// Sink receives every admitted TransferEvent. Implementations must not block the
// calling processor for long and must not panic; the core does not retry failed
// emissions.
type Sink func(event TransferEvent)

// EndpointStatus is the closed enumeration of endpoint health states.
type EndpointStatus int

const (
	Healthy EndpointStatus = iota
	Degraded
	Down
)

func (s EndpointStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// EndpointHealth tracks one endpoint's failure/backoff bookkeeping.
type EndpointHealth struct {
	URL              string
	Status           EndpointStatus
	FailCount        uint
	LastErrorTime    time.Time
	LastSuccessTime  time.Time
	NextAvailableTime time.Time
}

func (h EndpointHealth) String() string {
	return fmt.Sprintf("%s[%s failCount=%d]", h.URL, h.Status, h.FailCount)
}
