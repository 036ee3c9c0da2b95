package domain

// Market describes one venue order book. Base is the traded asset, quote prices it.
type Market struct {
	ID           Identity `json:"id"`
	BaseMint     Identity `json:"base_mint"`
	QuoteMint    Identity `json:"quote_mint"`
	BaseLotSize  uint64   `json:"base_lot_size"`
	QuoteLotSize uint64   `json:"quote_lot_size"`
	TakerFeeBps  uint32   `json:"taker_fee_bps"`
}

// BaseLots returns how many whole base lots fit into amount.
func (m Market) BaseLots(amount uint64) uint64 {
	if m.BaseLotSize == 0 {
		return 0
	}
	return amount / m.BaseLotSize
}

// TokenAccount is a wallet view returned by balance queries.
type TokenAccount struct {
	Address Identity `json:"address"`
	Owner   Identity `json:"owner"`
	Mint    Identity `json:"mint"`
	Amount  uint64   `json:"amount"`
}

// OrderRequest is an immediate-or-cancel order placed through an open-orders account.
// MaxBaseQty is in base lots, MaxQuoteQty in quote native units including fees.
type OrderRequest struct {
	Market      Identity
	OpenOrders  Identity
	Payer       Identity
	Side        Side
	LimitPrice  uint64
	MaxBaseQty  uint64
	MaxQuoteQty uint64
}
