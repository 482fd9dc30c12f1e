package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// QuoteRecord is one normalized observation extracted from a streamed frame
// or a quote API response. Change and ChangePercent may be absent; a record
// without a parseable price is never constructed.
type QuoteRecord struct {
	Code          string     `json:"code"`
	Price         float64    `json:"price"`
	Change        null.Float `json:"change"`
	ChangePercent null.Float `json:"change_percent"`
	// ObservedAt is whatever the source put in its time field: an epoch, an
	// ordinal, or a string. Kept verbatim; not used for persistence ordering.
	ObservedAt string `json:"observed_at,omitempty"`
}

// PricePoint is one persisted snapshot row. Every row written in the same
// snapshot cycle shares one Timestamp, and (IndexCode, Timestamp) is unique
// in storage.
type PricePoint struct {
	IndexCode     string     `json:"index_code"`
	Source        string     `json:"source"`
	Price         float64    `json:"price"`
	Change        null.Float `json:"change"`
	ChangePercent null.Float `json:"change_percent"`
	Timestamp     time.Time  `json:"timestamp"`
}

// IndexMeta is created lazily the first time a prefixed code shows up in a
// snapshot or fetch cycle, and never updated by the ingestion path afterwards.
type IndexMeta struct {
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Constituent is one member of a fetched index group.
type Constituent struct {
	IndexCode string     `json:"index_code"`
	Symbol    string     `json:"symbol"`
	Name      string     `json:"name,omitempty"`
	Weight    null.Float `json:"weight"`
	Shares    null.Float `json:"shares"`
	MarketCap null.Float `json:"market_cap"`
	Price     null.Float `json:"price"`
}

// TrackedSymbol is an operator-maintained entry the poller fetches when
// present; an empty tracked list makes the poller fall back to discovery.
type TrackedSymbol struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
