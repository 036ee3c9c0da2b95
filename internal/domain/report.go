package domain

import "time"

// SwapReport describes one committed conversion cycle.
type SwapReport struct {
	RecordID    Identity  `json:"record_id"`
	Operator    Identity  `json:"operator"`
	AmountGiven uint64    `json:"amount_given"`
	MinAccepted uint64    `json:"min_accepted"`
	FromAmount  uint64    `json:"from_amount"`
	ToAmount    uint64    `json:"to_amount"`
	SpillAmount uint64    `json:"spill_amount"` // always 0 for single-market swaps
	FromMint    Identity  `json:"from_mint"`
	ToMint      Identity  `json:"to_mint"`
	QuoteMint   Identity  `json:"quote_mint"`
	Side        Side      `json:"side"`
	Cycle       uint16    `json:"cycle"`
	Timestamp   time.Time `json:"ts"`
}

// SwapReportRecord pairs a report with its log index.
type SwapReportRecord struct {
	Index  uint64     `json:"index"`
	Report SwapReport `json:"report"`
}
