package token

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Token Snapshot — immutable per-poll-cycle view of a token's market state
// ---------------------------------------------------------------------------

// Address identifies a token mint or pair on-chain.
type Address string

// TradeSide is the direction of a single trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is one trade observed for a token.
type Trade struct {
	Wallet    string          `json:"wallet"`
	Side      TradeSide       `json:"side"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Timestamp time.Time       `json:"ts"`
}

// Holder summarizes one holder's position.
type Holder struct {
	Wallet     string          `json:"wallet"`
	ValueUSD   decimal.Decimal `json:"value_usd"`
	SupplyPct  float64         `json:"supply_pct"`
	FundedBy   string          `json:"funded_by,omitempty"`
	FirstTrade time.Time       `json:"first_trade,omitempty"`
}

// PricePoint is one entry in a snapshot's short price history.
type PricePoint struct {
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Timestamp time.Time       `json:"ts"`
}

// ContractInfo carries chain-derived contract facts, when available.
type ContractInfo struct {
	Verified         bool     `json:"verified"`
	Functions        []string `json:"functions,omitempty"`
	IsProxy          bool     `json:"is_proxy"`
	OwnerRenounced   bool     `json:"owner_renounced"`
	LiquidityLocked  bool     `json:"liquidity_locked"`
	LockTimeDays     int      `json:"lock_time_days"`
	LockRemainingDays int     `json:"lock_remaining_days"`
	Deployer         string   `json:"deployer,omitempty"`
}

// Snapshot is an immutable point-in-time record of a token's market state.
// Produced once per poll cycle by the data client; all engines consume it
// read-only and must never mutate it.
type Snapshot struct {
	Address Address `json:"address"`
	Symbol  string  `json:"symbol"`
	ChainID string  `json:"chain_id"`

	PriceUSD     decimal.Decimal `json:"price_usd"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	Volume24hUSD decimal.Decimal `json:"volume_24h_usd"`
	Volume1hUSD  decimal.Decimal `json:"volume_1h_usd"`
	FDVUSD       decimal.Decimal `json:"fdv_usd"`

	PriceChange5mPct  float64 `json:"price_change_5m_pct"`
	PriceChange1hPct  float64 `json:"price_change_1h_pct"`
	PriceChange24hPct float64 `json:"price_change_24h_pct"`

	Buys24h  int `json:"buys_24h"`
	Sells24h int `json:"sells_24h"`
	Buys5m   int `json:"buys_5m"`
	Sells5m  int `json:"sells_5m"`

	HolderCount int `json:"holder_count"`

	PairCreatedAt time.Time `json:"pair_created_at"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Aux bundles the slower, chain-derived detail delivered alongside a
// snapshot. Any field may be nil/empty; engines degrade to neutral results
// when the data they need is missing.
type Aux struct {
	Trades     []Trade       `json:"trades,omitempty"`
	TopHolders []Holder      `json:"top_holders,omitempty"`
	History    []PricePoint  `json:"history,omitempty"`
	Contract   *ContractInfo `json:"contract,omitempty"`
}

// Age returns the token age at observation time.
func (s *Snapshot) Age() time.Duration {
	if s.PairCreatedAt.IsZero() {
		return 0
	}
	ref := s.ObservedAt
	if ref.IsZero() {
		ref = time.Now()
	}
	return ref.Sub(s.PairCreatedAt)
}

// BuyRatio returns buys/(buys+sells) over 24h, or 0.5 when no trades exist.
func (s *Snapshot) BuyRatio() float64 {
	total := s.Buys24h + s.Sells24h
	if total == 0 {
		return 0.5
	}
	return float64(s.Buys24h) / float64(total)
}

// Top10Pct sums the supply share of the ten largest holders.
func (a *Aux) Top10Pct() float64 {
	var pct float64
	for i, h := range a.TopHolders {
		if i >= 10 {
			break
		}
		pct += h.SupplyPct
	}
	return pct
}
