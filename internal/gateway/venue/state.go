package venue

import "github.com/vadiminshakov/yieldcron/internal/domain"

// MarketState is a stored market with its resting book.
type MarketState struct {
	Market     domain.Market   `json:"market"`
	BaseVault  domain.Identity `json:"base_vault"`
	QuoteVault domain.Identity `json:"quote_vault"`
	Bids       []Level         `json:"bids"`
	Asks       []Level         `json:"asks"`
	Fees       uint64          `json:"fees"`
}

// State is a serializable copy of the venue.
type State struct {
	Markets    []MarketState `json:"markets"`
	OpenOrders []OpenOrders  `json:"open_orders"`
}

// Snapshot exports every market and open-orders account.
func (v *Venue) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var st State
	for _, b := range v.books {
		st.Markets = append(st.Markets, MarketState{
			Market:     b.market,
			BaseVault:  b.baseVault,
			QuoteVault: b.quoteVault,
			Bids:       append([]Level(nil), b.bids...),
			Asks:       append([]Level(nil), b.asks...),
			Fees:       b.fees,
		})
	}
	for _, oo := range v.openOrders {
		st.OpenOrders = append(st.OpenOrders, *oo)
	}
	return st
}

// Restore replaces venue contents with st.
func (v *Venue) Restore(st State) {
	books := make(map[domain.Identity]*book, len(st.Markets))
	for _, m := range st.Markets {
		b := &book{
			market:     m.Market,
			baseVault:  m.BaseVault,
			quoteVault: m.QuoteVault,
			bids:       append([]Level(nil), m.Bids...),
			asks:       append([]Level(nil), m.Asks...),
			fees:       m.Fees,
		}
		sortLevels(domain.SideBid, b.bids)
		sortLevels(domain.SideAsk, b.asks)
		books[m.Market.ID] = b
	}
	openOrders := make(map[domain.Identity]*OpenOrders, len(st.OpenOrders))
	for _, oo := range st.OpenOrders {
		cp := oo
		openOrders[oo.ID] = &cp
	}

	v.mu.Lock()
	v.books = books
	v.openOrders = openOrders
	v.mu.Unlock()
}
